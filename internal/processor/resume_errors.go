package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrResumeDownloadFailed = errors.New("下载简历失败")
	ErrParseTextFailed      = errors.New("提取简历文本失败")
	ErrEmbedFailed          = errors.New("生成简历向量失败")
	ErrVectorStoreFailed    = errors.New("写入向量库失败")
	ErrPublishMessageFailed = errors.New("发布简历事件失败")
	ErrUpdateStatusFailed   = errors.New("更新简历状态失败")
	ErrDatabaseFailed       = errors.New("数据库操作失败")
)

// ResumeProcessError 包含详细错误信息的自定义错误
type ResumeProcessError struct {
	ResumeID string
	Op       string
	BaseErr  error
	Detail   string
}

func (e *ResumeProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, ResumeID:%s): %s", e.BaseErr, e.Op, e.ResumeID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, ResumeID:%s)", e.BaseErr, e.Op, e.ResumeID)
}

func (e *ResumeProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ResumeProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewDownloadError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "download",
		BaseErr:  ErrResumeDownloadFailed,
		Detail:   detail,
	}
}

func NewParseError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "parse",
		BaseErr:  ErrParseTextFailed,
		Detail:   detail,
	}
}

func NewEmbedError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "embed",
		BaseErr:  ErrEmbedFailed,
		Detail:   detail,
	}
}

func NewVectorStoreError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "vector_store",
		BaseErr:  ErrVectorStoreFailed,
		Detail:   detail,
	}
}

func NewPublishError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "publish",
		BaseErr:  ErrPublishMessageFailed,
		Detail:   detail,
	}
}

func NewUpdateError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "update",
		BaseErr:  ErrUpdateStatusFailed,
		Detail:   detail,
	}
}

func NewDatabaseError(resumeID, detail string) error {
	return &ResumeProcessError{
		ResumeID: resumeID,
		Op:       "database",
		BaseErr:  ErrDatabaseFailed,
		Detail:   detail,
	}
}
