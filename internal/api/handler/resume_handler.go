package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// 原始文件下载链接的有效期
const downloadURLExpiry = 15 * time.Minute

// ResumeUploader 简历生命周期能力，由 processor.ResumeProcessor 满足
type ResumeUploader interface {
	UploadResume(ctx context.Context, originalFilename string, reader io.Reader, fileSize int64) (*processor.UploadResult, error)
	RequestReprocess(ctx context.Context, resumeID string) error
	DeleteResume(ctx context.Context, resumeID string) error
}

// ResumeReader 简历记录读取能力，由 storage.MySQL 满足
type ResumeReader interface {
	GetResumeRecordRow(ctx context.Context, resumeID string) (*models.ResumeRecordRow, error)
}

// FileURLSigner 原始文件预签名下载能力，由 storage.MinIO 满足
type FileURLSigner interface {
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// ResumeHandler 简历侧HTTP处理器
type ResumeHandler struct {
	uploader ResumeUploader
	records  ResumeReader
	files    FileURLSigner
}

// NewResumeHandler 创建简历处理器。files 可为 nil，此时详情接口不返回下载链接。
func NewResumeHandler(uploader ResumeUploader, records ResumeReader, files FileURLSigner) *ResumeHandler {
	return &ResumeHandler{
		uploader: uploader,
		records:  records,
		files:    files,
	}
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	ResumeID  string `json:"resume_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ResumeDetailResponse 简历详情响应
type ResumeDetailResponse struct {
	ResumeID         string              `json:"resume_id"`
	OriginalFilename string              `json:"original_filename"`
	ProcessingStatus string              `json:"processing_status"`
	Record           *types.ResumeRecord `json:"record,omitempty"`
	DownloadURL      string              `json:"download_url,omitempty"`
}

// HandleResumeUpload 处理简历上传请求
func (h *ResumeHandler) HandleResumeUpload(ctx context.Context, reader io.Reader, fileSize int64, filename string) (*ResumeUploadResponse, error) {
	if filename == "" {
		return nil, fmt.Errorf("文件名不能为空")
	}
	if fileSize <= 0 {
		return nil, fmt.Errorf("文件内容为空")
	}

	result, err := h.uploader.UploadResume(ctx, filename, reader, fileSize)
	if err != nil {
		logger.Error().
			Err(err).
			Str("filename", filename).
			Msg("简历上传失败")
		return nil, err
	}

	status := models.StatusPendingParsing
	if result.Duplicate {
		status = "DUPLICATE_FILE"
		logger.Info().
			Str("resume_id", result.ResumeID).
			Str("filename", filename).
			Msg("命中文件级去重，返回已有简历")
	}

	return &ResumeUploadResponse{
		ResumeID:  result.ResumeID,
		Status:    status,
		Duplicate: result.Duplicate,
	}, nil
}

// HandleGetResume 查询简历处理状态和结构化记录
func (h *ResumeHandler) HandleGetResume(ctx context.Context, resumeID string) (*ResumeDetailResponse, error) {
	if resumeID == "" {
		return nil, fmt.Errorf("resume_id不能为空")
	}

	row, err := h.records.GetResumeRecordRow(ctx, resumeID)
	if err != nil {
		return nil, fmt.Errorf("简历不存在: %s", resumeID)
	}

	resp := &ResumeDetailResponse{
		ResumeID:         row.ResumeID,
		OriginalFilename: row.OriginalFilename,
		ProcessingStatus: row.ProcessingStatus,
	}

	// 下载链接失败不影响详情返回
	if h.files != nil && row.OriginalFilePathOSS != "" {
		url, err := h.files.GetPresignedURL(ctx, row.OriginalFilePathOSS, downloadURLExpiry)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("resume_id", resumeID).
				Msg("生成简历下载链接失败")
		} else {
			resp.DownloadURL = url
		}
	}

	// 结构化记录仅在处理完成后存在
	if row.ProcessingStatus == models.StatusCompleted && len(row.StructuredDataJSON) > 0 {
		var record types.ResumeRecord
		if err := json.Unmarshal(row.StructuredDataJSON, &record); err != nil {
			logger.Warn().
				Err(err).
				Str("resume_id", resumeID).
				Msg("解析简历结构化数据失败")
		} else {
			resp.Record = &record
		}
	}
	return resp, nil
}

// HandleReprocess 触发简历重新处理，整条记录在处理完成后被整体替换
func (h *ResumeHandler) HandleReprocess(ctx context.Context, resumeID string) error {
	if resumeID == "" {
		return fmt.Errorf("resume_id不能为空")
	}
	if err := h.uploader.RequestReprocess(ctx, resumeID); err != nil {
		logger.Error().
			Err(err).
			Str("resume_id", resumeID).
			Msg("触发简历重处理失败")
		return err
	}
	return nil
}

// HandleDeleteResume 删除简历的向量、原始文件和记录
func (h *ResumeHandler) HandleDeleteResume(ctx context.Context, resumeID string) error {
	if resumeID == "" {
		return fmt.Errorf("resume_id不能为空")
	}
	if err := h.uploader.DeleteResume(ctx, resumeID); err != nil {
		logger.Error().
			Err(err).
			Str("resume_id", resumeID).
			Msg("删除简历失败")
		return err
	}
	logger.Info().
		Str("resume_id", resumeID).
		Msg("简历已删除")
	return nil
}
