package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var resumeTracer = otel.Tracer("resume-match-go/processor/resume")

// UploadResult 上传接口的返回结果
type UploadResult struct {
	ResumeID  string // 本次分配或命中的简历ID
	ObjectKey string // MinIO中的对象键
	Duplicate bool   // 是否命中文件级去重
}

// ResumeProcessor 驱动简历从上传到可检索的完整流程：
// 上传入库 -> 事件发布 -> PDF解析 -> 结构化抽取 -> 向量化 -> 向量入库。
type ResumeProcessor struct {
	files     ResumeFileStore
	records   ResumeRecordStore
	vectors   ResumeVectorStore
	cache     DedupCache
	publisher EventPublisher

	pdf       PDFExtractor
	extractor ResumeExtractor
	embedder  TextEmbedder

	exchange         string
	routingKey       string
	extractorVersion string
	logger           *log.Logger
}

// ResumeProcessorOption 配置选项
type ResumeProcessorOption func(*ResumeProcessor)

// WithResumeLogger 设置日志记录器
func WithResumeLogger(logger *log.Logger) ResumeProcessorOption {
	return func(p *ResumeProcessor) {
		p.logger = logger
	}
}

// NewResumeProcessor 创建简历处理器
func NewResumeProcessor(
	s *storage.Storage,
	pdf PDFExtractor,
	extractor ResumeExtractor,
	embedder TextEmbedder,
	cfg *config.Config,
	opts ...ResumeProcessorOption,
) (*ResumeProcessor, error) {
	if s == nil {
		return nil, fmt.Errorf("storage不能为空")
	}
	if pdf == nil || extractor == nil || embedder == nil {
		return nil, fmt.Errorf("pdf提取器、抽取器和嵌入器都不能为空")
	}
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if s.MinIO == nil || s.MySQL == nil || s.Qdrant == nil || s.Redis == nil || s.RabbitMQ == nil {
		return nil, fmt.Errorf("简历处理依赖的存储组件未完整初始化")
	}

	p := &ResumeProcessor{
		files:            s.MinIO,
		records:          s.MySQL,
		vectors:          s.Qdrant,
		cache:            s.Redis,
		publisher:        s.RabbitMQ,
		pdf:              pdf,
		extractor:        extractor,
		embedder:         embedder,
		exchange:         cfg.RabbitMQ.ResumeEventsExchange,
		routingKey:       cfg.RabbitMQ.UploadedRoutingKey,
		extractorVersion: cfg.ActiveExtractorVersion,
		logger:           log.New(log.Writer(), "[ResumeProcessor] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewResumeProcessorWithDeps 直接注入依赖接口，主要用于测试
func NewResumeProcessorWithDeps(
	files ResumeFileStore,
	records ResumeRecordStore,
	vectors ResumeVectorStore,
	cache DedupCache,
	publisher EventPublisher,
	pdf PDFExtractor,
	extractor ResumeExtractor,
	embedder TextEmbedder,
	cfg *config.Config,
) *ResumeProcessor {
	return &ResumeProcessor{
		files:            files,
		records:          records,
		vectors:          vectors,
		cache:            cache,
		publisher:        publisher,
		pdf:              pdf,
		extractor:        extractor,
		embedder:         embedder,
		exchange:         cfg.RabbitMQ.ResumeEventsExchange,
		routingKey:       cfg.RabbitMQ.UploadedRoutingKey,
		extractorVersion: cfg.ActiveExtractorVersion,
		logger:           log.New(io.Discard, "", 0),
	}
}

// UploadResume 接收上传的简历文件：流式存入MinIO并计算MD5、登记数据库记录、
// 命中文件级去重时返回已有简历ID，否则发布处理事件。
func (p *ResumeProcessor) UploadResume(ctx context.Context, originalFilename string, reader io.Reader, fileSize int64) (*UploadResult, error) {
	ctx, span := resumeTracer.Start(ctx, "ResumeProcessor.UploadResume",
		trace.WithAttributes(attribute.String("resume.filename",
			tracing.SafeAttributeValue("resume.filename", originalFilename, tracing.DefaultMaxLength))))
	defer span.End()

	newID, err := uuid.NewV7()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("生成简历ID失败: %w", err)
	}
	resumeID := newID.String()
	span.SetAttributes(attribute.String("resume.id", resumeID))

	fileExt := strings.ToLower(filepath.Ext(originalFilename))
	if fileExt == "" {
		fileExt = ".pdf"
	}

	objectKey, fileMD5, err := p.files.UploadResumeFileStreaming(ctx, resumeID, fileExt, reader, fileSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewDownloadError(resumeID, fmt.Sprintf("上传到对象存储失败: %v", err))
	}

	// 文件级去重：同一文件重复上传直接返回已有记录
	exists, existingID, err := p.cache.CheckAndSetFileMD5(ctx, fileMD5, resumeID)
	if err != nil {
		p.logger.Printf("检查文件MD5去重失败，继续处理: resumeID=%s err=%v", resumeID, err)
	} else if exists && existingID != "" {
		span.SetAttributes(attribute.Bool("resume.duplicate", true),
			attribute.String("resume.existing_id", existingID))
		span.SetStatus(codes.Ok, "duplicate file")
		return &UploadResult{ResumeID: existingID, ObjectKey: objectKey, Duplicate: true}, nil
	}

	row := &models.ResumeRecordRow{
		ResumeID:            resumeID,
		OriginalFilename:    originalFilename,
		OriginalFilePathOSS: objectKey,
		ProcessingStatus:    models.StatusPendingParsing,
	}
	if err := p.records.CreateResumeUpload(ctx, row); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rmErr := p.cache.RemoveFileMD5(ctx, fileMD5); rmErr != nil {
			p.logger.Printf("回滚文件MD5失败: resumeID=%s err=%v", resumeID, rmErr)
		}
		return nil, NewDatabaseError(resumeID, fmt.Sprintf("登记上传记录失败: %v", err))
	}

	msg := storage.ResumeUploadedMessage{
		ResumeID:            resumeID,
		UploadTimestamp:     time.Now(),
		OriginalFilename:    originalFilename,
		OriginalFilePathOSS: objectKey,
		RawFileMD5:          fileMD5,
	}
	if err := p.publisher.PublishJSON(ctx, p.exchange, p.routingKey, msg, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// 回滚去重记录，否则该文件以后再也无法被处理
		if rmErr := p.cache.RemoveFileMD5(ctx, fileMD5); rmErr != nil {
			p.logger.Printf("回滚文件MD5失败: resumeID=%s err=%v", resumeID, rmErr)
		}
		return nil, NewPublishError(resumeID, err.Error())
	}

	span.SetStatus(codes.Ok, "")
	return &UploadResult{ResumeID: resumeID, ObjectKey: objectKey}, nil
}

// RequestReprocess 重新发布某份简历的处理事件，跳过内容级缓存
func (p *ResumeProcessor) RequestReprocess(ctx context.Context, resumeID string) error {
	row, err := p.records.GetResumeRecordRow(ctx, resumeID)
	if err != nil {
		return NewDatabaseError(resumeID, fmt.Sprintf("查询简历记录失败: %v", err))
	}

	if err := p.records.UpdateResumeProcessingStatus(ctx, resumeID, models.StatusPendingParsing); err != nil {
		return NewUpdateError(resumeID, err.Error())
	}

	msg := storage.ResumeUploadedMessage{
		ResumeID:            resumeID,
		UploadTimestamp:     time.Now(),
		OriginalFilename:    row.OriginalFilename,
		OriginalFilePathOSS: row.OriginalFilePathOSS,
		Reprocess:           true,
	}
	if err := p.publisher.PublishJSON(ctx, p.exchange, p.routingKey, msg, true); err != nil {
		return NewPublishError(resumeID, err.Error())
	}
	return nil
}

// ProcessUploadedResume 消费端主流程。
// 解析和抽取的失败被记为FAILED状态；只有基础设施错误会向上返回，
// 让消费者决定是否重新入队。
func (p *ResumeProcessor) ProcessUploadedResume(ctx context.Context, msg storage.ResumeUploadedMessage) error {
	ctx, span := resumeTracer.Start(ctx, "ResumeProcessor.ProcessUploadedResume",
		trace.WithAttributes(
			attribute.String("resume.id", msg.ResumeID),
			attribute.Bool("resume.reprocess", msg.Reprocess),
		))
	defer span.End()

	if err := p.records.UpdateResumeProcessingStatus(ctx, msg.ResumeID, models.StatusProcessing); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NewUpdateError(msg.ResumeID, err.Error())
	}

	data, err := p.files.GetResumeFile(ctx, msg.OriginalFilePathOSS)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.markFailed(ctx, msg)
		return NewDownloadError(msg.ResumeID, err.Error())
	}

	rawText, err := p.extractRawText(ctx, data, msg.OriginalFilePathOSS)
	if err != nil || strings.TrimSpace(rawText) == "" {
		detail := "空文本"
		if err != nil {
			detail = err.Error()
		}
		span.RecordError(fmt.Errorf("解析PDF失败: %s", detail))
		span.SetStatus(codes.Error, detail)
		p.markFailed(ctx, msg)
		return NewParseError(msg.ResumeID, detail)
	}

	textMD5 := md5Hex(rawText)
	if err := p.records.UpdateResumeRawTextMD5(ctx, msg.ResumeID, textMD5); err != nil {
		p.logger.Printf("更新文本MD5失败: resumeID=%s err=%v", msg.ResumeID, err)
	}
	span.SetAttributes(
		attribute.Int("resume.text_length", len(rawText)),
		attribute.String("resume.text_preview", tracing.SafeResumeContent(rawText)),
	)

	record := p.extractRecord(ctx, msg, rawText, textMD5)

	vector, err := p.embedRecord(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.markFailed(ctx, msg)
		return err
	}

	payload := map[string]interface{}{
		"name":  record.Name,
		"title": record.Title,
	}
	if _, err := p.vectors.StoreResumeVector(ctx, msg.ResumeID, vector, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.markFailed(ctx, msg)
		return NewVectorStoreError(msg.ResumeID, err.Error())
	}

	if err := p.records.UpsertResumeRecord(ctx, record, textMD5, p.extractorVersion); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.markFailed(ctx, msg)
		return NewDatabaseError(msg.ResumeID, err.Error())
	}

	if err := p.cache.SetExtractionCache(ctx, textMD5, record); err != nil {
		p.logger.Printf("写入抽取缓存失败: resumeID=%s err=%v", msg.ResumeID, err)
	}

	span.SetStatus(codes.Ok, "")
	p.logger.Printf("简历处理完成: resumeID=%s", msg.ResumeID)
	return nil
}

// extractRawText 纯文本文件直接读取，其余走PDF解析器
func (p *ResumeProcessor) extractRawText(ctx context.Context, data []byte, objectKey string) (string, error) {
	if strings.EqualFold(filepath.Ext(objectKey), ".txt") {
		return string(data), nil
	}
	return p.pdf.ExtractTextFromBytes(ctx, data, objectKey)
}

// extractRecord 优先走内容级抽取缓存，未命中或强制重处理时调用LLM。
// 抽取本身不会失败：LLM异常时得到仅含原始文本的默认记录。
func (p *ResumeProcessor) extractRecord(ctx context.Context, msg storage.ResumeUploadedMessage, rawText, textMD5 string) *types.ResumeRecord {
	if !msg.Reprocess {
		cached, err := p.cache.GetExtractionCache(ctx, textMD5)
		if err == nil && cached != nil {
			p.logger.Printf("命中抽取缓存: resumeID=%s textMD5=%s", msg.ResumeID, textMD5)
			// 缓存按文本内容共享，归属字段要换成当前简历的
			clone := *cached
			clone.ResumeID = msg.ResumeID
			clone.RawText = rawText
			return &clone
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.logger.Printf("查询抽取缓存失败: resumeID=%s err=%v", msg.ResumeID, err)
		}

		// Redis缓存过期后，数据库里可能仍有相同内容的抽取结果
		if existingID, err := p.records.FindResumeIDByRawTextMD5(ctx, textMD5); err == nil &&
			existingID != "" && existingID != msg.ResumeID {
			if rec, err := p.records.GetResumeRecord(ctx, existingID); err == nil && rec != nil {
				p.logger.Printf("命中内容级去重: resumeID=%s 复用 %s 的抽取结果", msg.ResumeID, existingID)
				clone := *rec
				clone.ResumeID = msg.ResumeID
				clone.RawText = rawText
				return &clone
			}
		}
	}

	return p.extractor.ExtractResume(ctx, msg.ResumeID, rawText)
}

// embedRecord 将简历的嵌入文本向量化并校验维度
func (p *ResumeProcessor) embedRecord(ctx context.Context, record *types.ResumeRecord) ([]float64, error) {
	embeddings, err := p.embedder.EmbedStrings(ctx, []string{record.EmbeddingText()})
	if err != nil {
		return nil, NewEmbedError(record.ResumeID, err.Error())
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, NewEmbedError(record.ResumeID, fmt.Sprintf("期望1个非空向量，得到%d个", len(embeddings)))
	}
	if dims := p.embedder.GetDimensions(); dims > 0 && len(embeddings[0]) != dims {
		return nil, NewEmbedError(record.ResumeID, fmt.Sprintf("向量维度%d与模型维度%d不符", len(embeddings[0]), dims))
	}
	return embeddings[0], nil
}

// DeleteResume 删除简历的向量、原始文件和数据库记录。
// 去重集合中的文件MD5依赖TTL过期，不在这里清理。
func (p *ResumeProcessor) DeleteResume(ctx context.Context, resumeID string) error {
	ctx, span := resumeTracer.Start(ctx, "ResumeProcessor.DeleteResume",
		trace.WithAttributes(attribute.String("resume.id", resumeID)))
	defer span.End()

	row, err := p.records.GetResumeRecordRow(ctx, resumeID)
	if err != nil {
		span.SetStatus(codes.Error, "resume not found")
		return NewDatabaseError(resumeID, fmt.Sprintf("查询简历记录失败: %v", err))
	}

	if err := p.vectors.DeleteResumeVector(ctx, resumeID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NewVectorStoreError(resumeID, err.Error())
	}

	if row.OriginalFilePathOSS != "" {
		if err := p.files.DeleteResumeFile(ctx, row.OriginalFilePathOSS); err != nil {
			// 孤儿文件由存储桶的生命周期规则兜底清理
			p.logger.Printf("删除原始文件失败: resumeID=%s err=%v", resumeID, err)
		}
	}

	if err := p.records.DeleteResume(ctx, resumeID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NewDatabaseError(resumeID, err.Error())
	}

	span.SetStatus(codes.Ok, "")
	p.logger.Printf("简历已删除: resumeID=%s", resumeID)
	return nil
}

func (p *ResumeProcessor) markFailed(ctx context.Context, msg storage.ResumeUploadedMessage) {
	if err := p.records.UpdateResumeProcessingStatus(ctx, msg.ResumeID, models.StatusFailed); err != nil {
		p.logger.Printf("标记处理失败状态出错: resumeID=%s err=%v", msg.ResumeID, err)
	}
	// 回滚文件级去重，允许重新上传同一文件
	if msg.RawFileMD5 != "" {
		if err := p.cache.RemoveFileMD5(ctx, msg.RawFileMD5); err != nil {
			p.logger.Printf("回滚文件MD5失败: resumeID=%s err=%v", msg.ResumeID, err)
		}
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
