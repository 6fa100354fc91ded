package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var jobTracer = otel.Tracer("resume-match-go/processor/job")

// ErrJobNotFound 岗位不存在
var ErrJobNotFound = errors.New("岗位不存在")

// JobProcessor 负责岗位的结构化抽取、向量化与缓存维护。
// 岗位向量在MySQL中持久化，Redis作为带模型版本号的读缓存。
type JobProcessor struct {
	store     JobStore
	cache     JobVectorCache
	extractor JobExtractor
	embedder  TextEmbedder

	modelVersion string
	logger       *log.Logger
}

// NewJobProcessor 创建岗位处理器
func NewJobProcessor(s *storage.Storage, extractor JobExtractor, embedder TextEmbedder, cfg *config.Config) (*JobProcessor, error) {
	if s == nil || s.MySQL == nil {
		return nil, fmt.Errorf("storage或MySQL不能为空")
	}
	if extractor == nil || embedder == nil {
		return nil, fmt.Errorf("抽取器和嵌入器不能为空")
	}
	var cache JobVectorCache
	if s.Redis != nil {
		cache = s.Redis
	}
	return &JobProcessor{
		store:        s.MySQL,
		cache:        cache,
		extractor:    extractor,
		embedder:     embedder,
		modelVersion: cfg.Aliyun.Embedding.Model,
		logger:       log.New(log.Writer(), "[JobProcessor] ", log.LstdFlags),
	}, nil
}

// NewJobProcessorWithDeps 直接注入依赖接口，主要用于测试
func NewJobProcessorWithDeps(store JobStore, cache JobVectorCache, extractor JobExtractor, embedder TextEmbedder, modelVersion string) *JobProcessor {
	return &JobProcessor{
		store:        store,
		cache:        cache,
		extractor:    extractor,
		embedder:     embedder,
		modelVersion: modelVersion,
		logger:       log.New(io.Discard, "", 0),
	}
}

// JobOverrides 创建/更新岗位时对抽取结果的人工覆盖项，零值字段不生效
type JobOverrides struct {
	Title                   string
	Company                 string
	RequiredYearsExperience float64
}

func (o *JobOverrides) apply(record *types.JobRecord) {
	if o == nil {
		return
	}
	if o.Title != "" {
		record.Title = o.Title
	}
	if o.Company != "" {
		record.Company = o.Company
	}
	if o.RequiredYearsExperience > 0 {
		record.RequiredYearsExperience = o.RequiredYearsExperience
	}
}

// CreateOrUpdateJob 抽取岗位描述、持久化记录并刷新向量。
// jobID为空时新建岗位；非空时视为更新，会让旧向量缓存和排序会话失效。
// 与简历不同，岗位抽取失败是致命错误：岗位是打分基准，不能退化。
func (p *JobProcessor) CreateOrUpdateJob(ctx context.Context, jobID string, description string, overrides *JobOverrides) (*types.JobRecord, error) {
	isUpdate := jobID != ""
	if !isUpdate {
		newID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("生成岗位ID失败: %w", err)
		}
		jobID = newID.String()
	}

	ctx, span := jobTracer.Start(ctx, "JobProcessor.CreateOrUpdateJob",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.Bool("job.is_update", isUpdate),
		))
	defer span.End()

	if isUpdate {
		if _, err := p.store.GetJobRow(ctx, jobID); err != nil {
			span.SetStatus(codes.Error, "job not found")
			return nil, ErrJobNotFound
		}
	}

	record, err := p.extractor.ExtractJob(ctx, jobID, description)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("岗位结构化抽取失败: %w", err)
	}
	overrides.apply(record)

	if err := p.store.SaveJob(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("保存岗位记录失败: %w", err)
	}

	vector, err := p.embedJob(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vectorBytes, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("序列化岗位向量失败: %w", err)
	}
	if err := p.store.SaveJobVector(ctx, &models.JobVector{
		JobID:                 jobID,
		VectorRepresentation:  vectorBytes,
		EmbeddingModelVersion: p.modelVersion,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("持久化岗位向量失败: %w", err)
	}

	p.refreshVectorCache(ctx, jobID, vector)

	if isUpdate && p.cache != nil {
		// 岗位内容变了，之前缓存的排序结果不再可信
		if err := p.cache.InvalidateRankSessions(ctx, jobID); err != nil {
			p.logger.Printf("失效排序会话缓存失败: jobID=%s err=%v", jobID, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return record, nil
}

// GetJob 读取岗位的结构化记录
func (p *JobProcessor) GetJob(ctx context.Context, jobID string) (*types.JobRecord, error) {
	row, err := p.store.GetJobRow(ctx, jobID)
	if err != nil {
		return nil, ErrJobNotFound
	}

	var record types.JobRecord
	if len(row.StructuredDataJSON) > 0 {
		if err := json.Unmarshal(row.StructuredDataJSON, &record); err != nil {
			return nil, fmt.Errorf("解析岗位结构化数据失败: %w", err)
		}
	}
	record.JobID = row.JobID
	if record.Title == "" {
		record.Title = row.JobTitle
	}
	return &record, nil
}

// GetJobVector 返回岗位向量，按 Redis缓存 -> MySQL -> 重算 的顺序取。
// 模型版本不一致的向量一律视为过期。
func (p *JobProcessor) GetJobVector(ctx context.Context, jobID string) ([]float64, error) {
	ctx, span := jobTracer.Start(ctx, "JobProcessor.GetJobVector",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	if p.cache != nil {
		vector, version, err := p.cache.GetJobVector(ctx, jobID)
		if err == nil && len(vector) > 0 && version == p.modelVersion {
			span.SetAttributes(attribute.String("job.vector_source", "redis"))
			return vector, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.logger.Printf("读取岗位向量缓存失败: jobID=%s err=%v", jobID, err)
		}
	}

	stored, err := p.store.GetJobVectorByID(ctx, jobID)
	if err == nil && stored.EmbeddingModelVersion == p.modelVersion {
		var vector []float64
		if err := json.Unmarshal(stored.VectorRepresentation, &vector); err == nil && len(vector) > 0 {
			span.SetAttributes(attribute.String("job.vector_source", "mysql"))
			p.refreshVectorCache(ctx, jobID, vector)
			return vector, nil
		}
	}

	// 无可用向量或模型已升级，基于岗位记录重算
	record, err := p.GetJob(ctx, jobID)
	if err != nil {
		span.SetStatus(codes.Error, "job not found")
		return nil, err
	}
	vector, err := p.embedJob(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("job.vector_source", "recomputed"))

	vectorBytes, mErr := json.Marshal(vector)
	if mErr == nil {
		if err := p.store.SaveJobVector(ctx, &models.JobVector{
			JobID:                 jobID,
			VectorRepresentation:  vectorBytes,
			EmbeddingModelVersion: p.modelVersion,
		}); err != nil {
			p.logger.Printf("回写岗位向量失败: jobID=%s err=%v", jobID, err)
		}
	}
	p.refreshVectorCache(ctx, jobID, vector)
	return vector, nil
}

// DeleteJob 删除岗位记录、持久化向量及相关缓存
func (p *JobProcessor) DeleteJob(ctx context.Context, jobID string) error {
	ctx, span := jobTracer.Start(ctx, "JobProcessor.DeleteJob",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	if _, err := p.store.GetJobRow(ctx, jobID); err != nil {
		return ErrJobNotFound
	}
	if err := p.store.DeleteJob(ctx, jobID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("删除岗位失败: %w", err)
	}
	if p.cache != nil {
		if err := p.cache.DeleteJobVector(ctx, jobID); err != nil {
			p.logger.Printf("删除岗位向量缓存失败: jobID=%s err=%v", jobID, err)
		}
		if err := p.cache.InvalidateRankSessions(ctx, jobID); err != nil {
			p.logger.Printf("失效排序会话缓存失败: jobID=%s err=%v", jobID, err)
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (p *JobProcessor) embedJob(ctx context.Context, record *types.JobRecord) ([]float64, error) {
	embeddings, err := p.embedder.EmbedStrings(ctx, []string{record.EmbeddingText()})
	if err != nil {
		return nil, fmt.Errorf("岗位向量化失败: %w", err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("岗位向量化失败: 期望1个非空向量，得到%d个", len(embeddings))
	}
	return embeddings[0], nil
}

func (p *JobProcessor) refreshVectorCache(ctx context.Context, jobID string, vector []float64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetJobVector(ctx, jobID, vector, p.modelVersion); err != nil {
		p.logger.Printf("写入岗位向量缓存失败: jobID=%s err=%v", jobID, err)
	}
}
