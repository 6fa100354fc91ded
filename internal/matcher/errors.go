package matcher

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	// ErrInvalidEmbedding 向量缺失、为空或维度不匹配
	ErrInvalidEmbedding = errors.New("向量无效")
	// ErrRecordLookupFailed 候选人记录查找失败
	ErrRecordLookupFailed = errors.New("查找候选人记录失败")
	// ErrVectorSearchFailed 向量检索失败
	ErrVectorSearchFailed = errors.New("向量检索失败")
	// ErrJobNotFound 岗位不存在
	ErrJobNotFound = errors.New("岗位不存在")
)

// MatchError 包含详细错误信息的自定义错误
type MatchError struct {
	JobID    string
	ResumeID string
	Op       string
	BaseErr  error
	Detail   string
}

func (e *MatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 岗位:%s, 简历:%s): %s", e.BaseErr, e.Op, e.JobID, e.ResumeID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 岗位:%s, 简历:%s)", e.BaseErr, e.Op, e.JobID, e.ResumeID)
}

func (e *MatchError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *MatchError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewInvalidEmbeddingError(jobID, resumeID, detail string) error {
	return &MatchError{
		JobID:    jobID,
		ResumeID: resumeID,
		Op:       "score",
		BaseErr:  ErrInvalidEmbedding,
		Detail:   detail,
	}
}

func NewRecordLookupError(jobID, resumeID, detail string) error {
	return &MatchError{
		JobID:    jobID,
		ResumeID: resumeID,
		Op:       "lookup",
		BaseErr:  ErrRecordLookupFailed,
		Detail:   detail,
	}
}

func NewVectorSearchError(jobID, detail string) error {
	return &MatchError{
		JobID:   jobID,
		Op:      "search",
		BaseErr: ErrVectorSearchFailed,
		Detail:  detail,
	}
}
