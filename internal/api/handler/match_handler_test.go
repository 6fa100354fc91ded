package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"resume-match-go/internal/matcher"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJobVectorProvider 模拟岗位记录与向量读取
type MockJobVectorProvider struct {
	job    *types.JobRecord
	vector []float64
	jobErr error
	vecErr error
}

func (m *MockJobVectorProvider) GetJob(ctx context.Context, jobID string) (*types.JobRecord, error) {
	return m.job, m.jobErr
}

func (m *MockJobVectorProvider) GetJobVector(ctx context.Context, jobID string) ([]float64, error) {
	return m.vector, m.vecErr
}

// MockRecordStore 模拟简历记录读取
type MockRecordStore struct {
	record *types.ResumeRecord
	err    error
}

func (m *MockRecordStore) GetResumeRecord(ctx context.Context, resumeID string) (*types.ResumeRecord, error) {
	return m.record, m.err
}

// MockResumeVectorReader 模拟简历向量读取
type MockResumeVectorReader struct {
	vector []float64
	err    error
}

func (m *MockResumeVectorReader) GetResumeVector(ctx context.Context, resumeID string) ([]float64, error) {
	return m.vector, m.err
}

// MockRankCache 模拟排序会话缓存与锁
type MockRankCache struct {
	cached       []types.MatchResult
	lockValue    string
	lockErr      error
	stored       []types.MatchResult
	released     bool
	getCalls     int
	acquireCalls int
}

func (m *MockRankCache) GetCachedRankResults(ctx context.Context, jobID string, topK int) ([]types.MatchResult, error) {
	m.getCalls++
	if m.cached == nil {
		return nil, errors.New("cache miss")
	}
	return m.cached, nil
}

func (m *MockRankCache) CacheRankResults(ctx context.Context, jobID string, topK int, results []types.MatchResult, ttl time.Duration) error {
	m.stored = results
	return nil
}

func (m *MockRankCache) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	m.acquireCalls++
	return m.lockValue, m.lockErr
}

func (m *MockRankCache) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	m.released = true
	return true, nil
}

// MockRanker 模拟排序器
type MockRanker struct {
	results []types.MatchResult
	err     error
	called  int
}

func (m *MockRanker) Rank(ctx context.Context, job *types.JobRecord, jobVec []float64, topK int) ([]types.MatchResult, error) {
	m.called++
	return m.results, m.err
}

// MockResultSink 模拟匹配结果持久化
type MockResultSink struct {
	saved []types.MatchResult
}

func (m *MockResultSink) SaveMatchResults(ctx context.Context, results []types.MatchResult) error {
	m.saved = results
	return nil
}

func testJob() *types.JobRecord {
	return &types.JobRecord{
		JobID:          "job-001",
		Title:          "Go后端工程师",
		RequiredSkills: []string{"Go", "MySQL"},
	}
}

func TestHandleRankCandidates_CacheHitSkipsRanking(t *testing.T) {
	cache := &MockRankCache{cached: []types.MatchResult{{JobID: "job-001", ResumeID: "r-1", OverallScore: 0.9}}}
	ranker := &MockRanker{}
	h := NewMatchHandler(&MockJobVectorProvider{}, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), ranker, cache, nil)

	resp, err := h.HandleRankCandidates(context.Background(), "job-001", 10, false)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 0, ranker.called, "缓存命中时不应执行排序")
}

func TestHandleRankCandidates_RanksAndCaches(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vector: []float64{0.1, 0.2}}
	cache := &MockRankCache{lockValue: "lock-token"}
	ranker := &MockRanker{results: []types.MatchResult{
		{JobID: "job-001", ResumeID: "r-1", OverallScore: 0.94},
		{JobID: "job-001", ResumeID: "r-2", OverallScore: 0.48},
	}}
	h := NewMatchHandler(jobs, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), ranker, cache, nil)

	resp, err := h.HandleRankCandidates(context.Background(), "job-001", 10, false)
	require.NoError(t, err)

	assert.Equal(t, 1, ranker.called)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "r-1", resp.Results[0].ResumeID)
	assert.Len(t, cache.stored, 2, "排序结果应写入会话缓存")
	assert.True(t, cache.released, "排序后应释放锁")
}

func TestHandleRankCandidates_PersistsWhenRequested(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vector: []float64{0.5}}
	sink := &MockResultSink{}
	ranker := &MockRanker{results: []types.MatchResult{{JobID: "job-001", ResumeID: "r-1"}}}
	h := NewMatchHandler(jobs, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), ranker, &MockRankCache{lockValue: "v"}, sink)

	_, err := h.HandleRankCandidates(context.Background(), "job-001", 5, true)
	require.NoError(t, err)
	assert.Len(t, sink.saved, 1)
}

func TestHandleRankCandidates_EmptyResultIsValid(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vector: []float64{0.5}}
	ranker := &MockRanker{results: []types.MatchResult{}}
	h := NewMatchHandler(jobs, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), ranker, &MockRankCache{lockValue: "v"}, nil)

	resp, err := h.HandleRankCandidates(context.Background(), "job-001", 10, false)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Results)
}

func TestHandleRankCandidates_Validation(t *testing.T) {
	h := NewMatchHandler(&MockJobVectorProvider{}, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), &MockRanker{}, nil, nil)

	_, err := h.HandleRankCandidates(context.Background(), "", 10, false)
	assert.Error(t, err)
}

func TestHandleRankCandidates_JobVectorFailureIsFatal(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vecErr: errors.New("向量服务不可用")}
	h := NewMatchHandler(jobs, &MockRecordStore{}, &MockResumeVectorReader{}, matcher.NewScorer(), &MockRanker{}, &MockRankCache{lockValue: "v"}, nil)

	_, err := h.HandleRankCandidates(context.Background(), "job-001", 10, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "获取岗位向量失败")
}

func TestHandleScorePair(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vector: []float64{1, 0}}
	records := &MockRecordStore{record: &types.ResumeRecord{
		ResumeID:             "r-1",
		TechnicalSkills:      []string{"Go", "MySQL"},
		TotalYearsExperience: 5,
	}}
	vectors := &MockResumeVectorReader{vector: []float64{1, 0}}
	h := NewMatchHandler(jobs, records, vectors, matcher.NewScorer(), &MockRanker{}, nil, nil)

	result, err := h.HandleScorePair(context.Background(), "job-001", "r-1")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.SkillsMatchScore, 1e-9)
	assert.InDelta(t, 1.0, result.SemanticSimilarityScore, 1e-9)
	assert.Equal(t, "job-001", result.JobID)
	assert.Equal(t, "r-1", result.ResumeID)
}

func TestHandleScorePair_ResumeLookupFailure(t *testing.T) {
	jobs := &MockJobVectorProvider{job: testJob(), vector: []float64{1, 0}}
	records := &MockRecordStore{err: errors.New("record not found")}
	h := NewMatchHandler(jobs, records, &MockResumeVectorReader{}, matcher.NewScorer(), &MockRanker{}, nil, nil)

	_, err := h.HandleScorePair(context.Background(), "job-001", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, matcher.ErrRecordLookupFailed)
}
