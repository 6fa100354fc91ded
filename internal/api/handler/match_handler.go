package handler

import (
	"context"
	"fmt"
	"time"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/matcher"
	"resume-match-go/internal/types"
)

const (
	defaultRankTopK = 10
	maxRankTopK     = 100

	// 锁被他人持有时轮询缓存的次数和间隔
	rankCachePollAttempts = 3
	rankCachePollInterval = 200 * time.Millisecond
)

// JobVectorProvider 岗位记录与向量读取能力，由 processor.JobProcessor 满足
type JobVectorProvider interface {
	GetJob(ctx context.Context, jobID string) (*types.JobRecord, error)
	GetJobVector(ctx context.Context, jobID string) ([]float64, error)
}

// ResumeVectorReader 简历向量读取能力，由 storage.Qdrant 满足
type ResumeVectorReader interface {
	GetResumeVector(ctx context.Context, resumeID string) ([]float64, error)
}

// RankCache 排序会话缓存与分布式锁，由 storage.Redis 满足
type RankCache interface {
	GetCachedRankResults(ctx context.Context, jobID string, topK int) ([]types.MatchResult, error)
	CacheRankResults(ctx context.Context, jobID string, topK int, results []types.MatchResult, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// MatchResultSink 匹配结果持久化能力，由 storage.MySQL 满足
type MatchResultSink interface {
	SaveMatchResults(ctx context.Context, results []types.MatchResult) error
}

// CandidateRanker 排序能力，由 matcher.Ranker 满足
type CandidateRanker interface {
	Rank(ctx context.Context, job *types.JobRecord, jobVec []float64, topK int) ([]types.MatchResult, error)
}

// MatchHandler 匹配打分与排序的HTTP处理器
type MatchHandler struct {
	jobs    JobVectorProvider
	records matcher.RecordStore
	vectors ResumeVectorReader
	scorer  *matcher.Scorer
	ranker  CandidateRanker
	cache   RankCache
	sink    MatchResultSink
}

// NewMatchHandler 创建匹配处理器。cache和sink可以为nil，相应能力自动退化。
func NewMatchHandler(
	jobs JobVectorProvider,
	records matcher.RecordStore,
	vectors ResumeVectorReader,
	scorer *matcher.Scorer,
	ranker CandidateRanker,
	cache RankCache,
	sink MatchResultSink,
) *MatchHandler {
	return &MatchHandler{
		jobs:    jobs,
		records: records,
		vectors: vectors,
		scorer:  scorer,
		ranker:  ranker,
		cache:   cache,
		sink:    sink,
	}
}

// HandleRankCandidates 对岗位执行候选人排序。
// 结果按 (jobID, topK) 缓存；并发的相同请求由分布式锁归并，
// 等锁方轮询缓存而不是重复排序。空结果是合法的。
func (h *MatchHandler) HandleRankCandidates(ctx context.Context, jobID string, topK int, persist bool) (*types.RankResponse, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_id不能为空")
	}
	if topK <= 0 {
		topK = defaultRankTopK
	}
	if topK > maxRankTopK {
		topK = maxRankTopK
	}

	if h.cache != nil {
		if cached, err := h.cache.GetCachedRankResults(ctx, jobID, topK); err == nil && cached != nil {
			return h.rankResponse(jobID, topK, cached), nil
		}
	}

	lockKey := fmt.Sprintf(constants.KeyRankLock, jobID)
	var lockValue string
	if h.cache != nil {
		var err error
		lockValue, err = h.cache.AcquireLock(ctx, lockKey, constants.RankLockDuration)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("获取排序锁失败，降级为直接排序")
		} else if lockValue == "" {
			// 锁被并发请求持有，等它把结果写进缓存
			for i := 0; i < rankCachePollAttempts; i++ {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(rankCachePollInterval):
				}
				if cached, err := h.cache.GetCachedRankResults(ctx, jobID, topK); err == nil && cached != nil {
					return h.rankResponse(jobID, topK, cached), nil
				}
			}
			// 持锁方可能失败了，自己排一次
		}
	}
	if lockValue != "" {
		defer func() {
			if _, err := h.cache.ReleaseLock(ctx, lockKey, lockValue); err != nil {
				logger.Warn().
					Err(err).
					Str("job_id", jobID).
					Msg("释放排序锁失败")
			}
		}()
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jobVec, err := h.jobs.GetJobVector(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("获取岗位向量失败: %w", err)
	}

	results, err := h.ranker.Rank(ctx, job, jobVec, topK)
	if err != nil {
		logger.Error().
			Err(err).
			Str("job_id", jobID).
			Msg("候选人排序失败")
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.CacheRankResults(ctx, jobID, topK, results, constants.RankSessionCacheDuration); err != nil {
			logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("写入排序会话缓存失败")
		}
	}

	if persist && h.sink != nil && len(results) > 0 {
		if err := h.sink.SaveMatchResults(ctx, results); err != nil {
			logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("持久化匹配结果失败")
		}
	}

	return h.rankResponse(jobID, topK, results), nil
}

// HandleScorePair 对单个 (岗位, 候选人) 组合打分
func (h *MatchHandler) HandleScorePair(ctx context.Context, jobID string, resumeID string) (*types.MatchResult, error) {
	if jobID == "" || resumeID == "" {
		return nil, fmt.Errorf("job_id和resume_id都不能为空")
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jobVec, err := h.jobs.GetJobVector(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("获取岗位向量失败: %w", err)
	}

	resume, err := h.records.GetResumeRecord(ctx, resumeID)
	if err != nil {
		return nil, matcher.NewRecordLookupError(jobID, resumeID, err.Error())
	}
	resumeVec, err := h.vectors.GetResumeVector(ctx, resumeID)
	if err != nil {
		return nil, matcher.NewInvalidEmbeddingError(jobID, resumeID, fmt.Sprintf("获取简历向量失败: %v", err))
	}

	return h.scorer.Score(job, resume, jobVec, resumeVec)
}

func (h *MatchHandler) rankResponse(jobID string, topK int, results []types.MatchResult) *types.RankResponse {
	if results == nil {
		results = []types.MatchResult{}
	}
	return &types.RankResponse{
		JobID:   jobID,
		TopK:    topK,
		Total:   len(results),
		Results: results,
	}
}
