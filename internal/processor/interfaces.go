package processor

import (
	"context"
	"io"

	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
)

//
// 解析与抽取相关接口
//

// PDFExtractor PDF文本提取接口
type PDFExtractor interface {
	// ExtractTextFromBytes 从字节数组提取文本
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, error)
}

// ResumeExtractor 简历结构化抽取接口。
// 抽取失败时返回仅含原始文本的默认记录，不返回错误。
type ResumeExtractor interface {
	ExtractResume(ctx context.Context, resumeID string, rawText string) *types.ResumeRecord
}

// JobExtractor 岗位结构化抽取接口，抽取失败直接报错
type JobExtractor interface {
	ExtractJob(ctx context.Context, jobID string, rawText string) (*types.JobRecord, error)
}

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}

//
// 存储侧依赖接口，由 storage 包的具体实现满足
//

// ResumeFileStore 原始简历文件存储接口
type ResumeFileStore interface {
	UploadResumeFileStreaming(ctx context.Context, resumeID, fileExt string, reader io.Reader, fileSize int64) (string, string, error)
	GetResumeFile(ctx context.Context, objectKey string) ([]byte, error)
	DeleteResumeFile(ctx context.Context, objectKey string) error
}

// ResumeRecordStore 简历记录持久化接口
type ResumeRecordStore interface {
	CreateResumeUpload(ctx context.Context, row *models.ResumeRecordRow) error
	UpdateResumeProcessingStatus(ctx context.Context, resumeID string, status string) error
	UpdateResumeRawTextMD5(ctx context.Context, resumeID string, rawTextMD5 string) error
	UpsertResumeRecord(ctx context.Context, record *types.ResumeRecord, rawTextMD5 string, extractorVersion string) error
	GetResumeRecordRow(ctx context.Context, resumeID string) (*models.ResumeRecordRow, error)
	GetResumeRecord(ctx context.Context, resumeID string) (*types.ResumeRecord, error)
	FindResumeIDByRawTextMD5(ctx context.Context, rawTextMD5 string) (string, error)
	DeleteResume(ctx context.Context, resumeID string) error
}

// ResumeVectorStore 简历向量存储接口
type ResumeVectorStore interface {
	StoreResumeVector(ctx context.Context, resumeID string, embedding []float64, payload map[string]interface{}) (string, error)
	DeleteResumeVector(ctx context.Context, resumeID string) error
}

// DedupCache 去重与抽取结果缓存接口
type DedupCache interface {
	CheckAndSetFileMD5(ctx context.Context, md5Hex string, resumeID string) (bool, string, error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
	GetExtractionCache(ctx context.Context, textMD5 string) (*types.ResumeRecord, error)
	SetExtractionCache(ctx context.Context, textMD5 string, record *types.ResumeRecord) error
}

// EventPublisher 事件发布接口
type EventPublisher interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
}

// JobStore 岗位记录与向量持久化接口
type JobStore interface {
	SaveJob(ctx context.Context, record *types.JobRecord) error
	GetJobRow(ctx context.Context, jobID string) (*models.JobRecordRow, error)
	DeleteJob(ctx context.Context, jobID string) error
	SaveJobVector(ctx context.Context, jobVector *models.JobVector) error
	GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error)
}

// JobVectorCache 岗位向量与排序会话缓存接口
type JobVectorCache interface {
	SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error
	GetJobVector(ctx context.Context, jobID string) ([]float64, string, error)
	DeleteJobVector(ctx context.Context, jobID string) error
	InvalidateRankSessions(ctx context.Context, jobID string) error
}
