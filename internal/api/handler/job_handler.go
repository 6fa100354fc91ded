package handler

import (
	"context"
	"fmt"
	"strings"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/types"
)

// JobService 岗位生命周期能力，由 processor.JobProcessor 满足
type JobService interface {
	CreateOrUpdateJob(ctx context.Context, jobID string, description string, overrides *processor.JobOverrides) (*types.JobRecord, error)
	GetJob(ctx context.Context, jobID string) (*types.JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// JobHandler 岗位侧HTTP处理器
type JobHandler struct {
	jobs JobService
}

// NewJobHandler 创建岗位处理器
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// JobCreateRequest 岗位创建/更新请求。
// title/company/required_years_experience 非零时覆盖LLM抽取结果。
type JobCreateRequest struct {
	Description             string  `json:"description"`
	Title                   string  `json:"title,omitempty"`
	Company                 string  `json:"company,omitempty"`
	RequiredYearsExperience float64 `json:"required_years_experience,omitempty"`
}

func (r *JobCreateRequest) overrides() *processor.JobOverrides {
	if r.Title == "" && r.Company == "" && r.RequiredYearsExperience <= 0 {
		return nil
	}
	return &processor.JobOverrides{
		Title:                   r.Title,
		Company:                 r.Company,
		RequiredYearsExperience: r.RequiredYearsExperience,
	}
}

// HandleCreateJob 创建岗位：抽取结构化字段并生成向量
func (h *JobHandler) HandleCreateJob(ctx context.Context, req *JobCreateRequest) (*types.JobRecord, error) {
	if req == nil || strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("岗位描述不能为空")
	}

	record, err := h.jobs.CreateOrUpdateJob(ctx, "", req.Description, req.overrides())
	if err != nil {
		logger.Error().
			Err(err).
			Msg("创建岗位失败")
		return nil, err
	}

	logger.Info().
		Str("job_id", record.JobID).
		Str("title", record.Title).
		Msg("岗位创建完成")
	return record, nil
}

// HandleUpdateJob 更新岗位描述并刷新向量与排序缓存
func (h *JobHandler) HandleUpdateJob(ctx context.Context, jobID string, req *JobCreateRequest) (*types.JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_id不能为空")
	}
	if req == nil || strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("岗位描述不能为空")
	}

	record, err := h.jobs.CreateOrUpdateJob(ctx, jobID, req.Description, req.overrides())
	if err != nil {
		logger.Error().
			Err(err).
			Str("job_id", jobID).
			Msg("更新岗位失败")
		return nil, err
	}
	return record, nil
}

// HandleGetJob 查询岗位结构化记录
func (h *JobHandler) HandleGetJob(ctx context.Context, jobID string) (*types.JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_id不能为空")
	}
	return h.jobs.GetJob(ctx, jobID)
}

// HandleDeleteJob 删除岗位及其向量与缓存
func (h *JobHandler) HandleDeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job_id不能为空")
	}
	return h.jobs.DeleteJob(ctx, jobID)
}
