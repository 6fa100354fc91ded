package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/types"
)

// SearchHit 向量检索返回的单个命中
type SearchHit struct {
	ResumeID string
	Score    float64   // 检索侧的相似度分数，仅用于召回
	Vector   []float64 // 命中点存储的向量
}

// VectorSearcher 向量检索接口
type VectorSearcher interface {
	SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int) ([]SearchHit, error)
}

// IndexSizer 检索器的可选能力：报告索引中的向量点总数。
// 实现了该接口时，召回数量会收敛到索引实际大小。
type IndexSizer interface {
	CountPoints(ctx context.Context) (int64, error)
}

// RecordStore 候选人记录查找接口
type RecordStore interface {
	GetResumeRecord(ctx context.Context, resumeID string) (*types.ResumeRecord, error)
}

const (
	defaultOversampleFactor = 3
	minOversampleFactor     = 1
	maxOversampleFactor     = 10
)

// Ranker 对一个岗位检索并排序候选人。
// 无持久状态，每次调用是独立的纯计算。
type Ranker struct {
	scorer        *Scorer
	searcher      VectorSearcher
	records       RecordStore
	oversample    int
	scoreTimeout  time.Duration
	maxConcurrent int
}

// RankerOption 定义Ranker的配置选项
type RankerOption func(*Ranker)

// WithOversampleFactor 设置向量检索的过采样倍数，范围外的值会被收敛
func WithOversampleFactor(factor int) RankerOption {
	return func(r *Ranker) {
		if factor < minOversampleFactor {
			factor = minOversampleFactor
		}
		if factor > maxOversampleFactor {
			factor = maxOversampleFactor
		}
		r.oversample = factor
	}
}

// WithScoreTimeout 设置单个候选人打分的超时
func WithScoreTimeout(d time.Duration) RankerOption {
	return func(r *Ranker) {
		if d > 0 {
			r.scoreTimeout = d
		}
	}
}

// WithMaxConcurrentScores 设置并发打分上限
func WithMaxConcurrentScores(n int) RankerOption {
	return func(r *Ranker) {
		if n > 0 {
			r.maxConcurrent = n
		}
	}
}

// NewRanker 创建排序器
func NewRanker(scorer *Scorer, searcher VectorSearcher, records RecordStore, opts ...RankerOption) (*Ranker, error) {
	if scorer == nil {
		return nil, fmt.Errorf("打分器不能为空")
	}
	if searcher == nil {
		return nil, fmt.Errorf("向量检索器不能为空")
	}
	if records == nil {
		return nil, fmt.Errorf("记录存储不能为空")
	}

	r := &Ranker{
		scorer:        scorer,
		searcher:      searcher,
		records:       records,
		oversample:    defaultOversampleFactor,
		scoreTimeout:  5 * time.Second,
		maxConcurrent: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rank 检索并返回与岗位最匹配的前 topK 个候选人。
// 召回数量为 topK 乘以过采样倍数，且不超过索引中的点数；打分后按综合分重新排序截断。
// 单个候选人查找或打分失败时记录日志并跳过，不中断整批。
func (r *Ranker) Rank(ctx context.Context, job *types.JobRecord, jobVec []float64, topK int) ([]types.MatchResult, error) {
	if job == nil {
		return nil, fmt.Errorf("岗位记录不能为空")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k 必须为正整数, 收到: %d", topK)
	}
	if len(jobVec) == 0 {
		return nil, NewInvalidEmbeddingError(job.JobID, "", "岗位向量缺失或维度为零")
	}

	recallLimit := topK * r.oversample
	if sizer, ok := r.searcher.(IndexSizer); ok {
		if size, err := sizer.CountPoints(ctx); err == nil && size > 0 && int64(recallLimit) > size {
			recallLimit = int(size)
		}
	}

	hits, err := r.searcher.SearchSimilarResumes(ctx, jobVec, recallLimit)
	if err != nil {
		return nil, NewVectorSearchError(job.JobID, err.Error())
	}
	if len(hits) == 0 {
		return []types.MatchResult{}, nil
	}

	results := r.scoreCandidates(ctx, job, jobVec, hits)

	// 综合分降序，语义分降序，ResumeID 升序，保证结果可复现
	sort.Slice(results, func(i, j int) bool {
		if results[i].OverallScore != results[j].OverallScore {
			return results[i].OverallScore > results[j].OverallScore
		}
		if results[i].SemanticSimilarityScore != results[j].SemanticSimilarityScore {
			return results[i].SemanticSimilarityScore > results[j].SemanticSimilarityScore
		}
		return results[i].ResumeID < results[j].ResumeID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// scoreCandidates 并发对召回的候选人打分，失败的候选人被跳过
func (r *Ranker) scoreCandidates(ctx context.Context, job *types.JobRecord, jobVec []float64, hits []SearchHit) []types.MatchResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]types.MatchResult, 0, len(hits))
	)
	sem := make(chan struct{}, r.maxConcurrent)

	for _, hit := range hits {
		wg.Add(1)
		go func(hit SearchHit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := r.scoreOne(ctx, job, jobVec, hit)
			if err != nil {
				logEvent := logger.Warn().
					Str("job_id", job.JobID).
					Str("resume_id", hit.ResumeID).
					Err(err)
				switch {
				case errors.Is(err, ErrRecordLookupFailed):
					logEvent.Msg("候选人记录查找失败，跳过该候选人")
				case errors.Is(err, ErrInvalidEmbedding):
					logEvent.Msg("候选人向量无效，跳过该候选人")
				default:
					logEvent.Msg("候选人打分失败，跳过该候选人")
				}
				return
			}

			mu.Lock()
			results = append(results, *result)
			mu.Unlock()
		}(hit)
	}

	wg.Wait()
	return results
}

// scoreOne 查找单个候选人的完整记录并打分
func (r *Ranker) scoreOne(ctx context.Context, job *types.JobRecord, jobVec []float64, hit SearchHit) (*types.MatchResult, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, r.scoreTimeout)
	defer cancel()

	resume, err := r.records.GetResumeRecord(scoreCtx, hit.ResumeID)
	if err != nil {
		return nil, NewRecordLookupError(job.JobID, hit.ResumeID, err.Error())
	}

	return r.scorer.Score(job, resume, jobVec, hit.Vector)
}
