package matcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

// MockVectorSearcher 模拟向量检索器
type MockVectorSearcher struct {
	hits      []SearchHit
	err       error
	lastLimit int
}

func (m *MockVectorSearcher) SearchSimilarResumes(ctx context.Context, queryVector []float64, limit int) ([]SearchHit, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.hits) {
		return m.hits[:limit], nil
	}
	return m.hits, nil
}

// MockRecordStore 模拟记录存储
type MockRecordStore struct {
	records map[string]*types.ResumeRecord
	failIDs map[string]bool
}

func (m *MockRecordStore) GetResumeRecord(ctx context.Context, resumeID string) (*types.ResumeRecord, error) {
	if m.failIDs[resumeID] {
		return nil, errors.New("记录已删除")
	}
	record, ok := m.records[resumeID]
	if !ok {
		return nil, fmt.Errorf("记录不存在: %s", resumeID)
	}
	return record, nil
}

func rankTestJob() *types.JobRecord {
	return &types.JobRecord{
		JobID:                   "job-rank",
		Title:                   "平台工程师",
		RequiredSkills:          []string{"Python", "AWS"},
		RequiredYearsExperience: 3,
	}
}

func rankTestFixture() (*MockVectorSearcher, *MockRecordStore) {
	searcher := &MockVectorSearcher{
		hits: []SearchHit{
			{ResumeID: "resume-b", Score: 0.9, Vector: []float64{0.6, 0.8}},
			{ResumeID: "resume-a", Score: 0.8, Vector: []float64{0.8, 0.6}},
		},
	}
	records := &MockRecordStore{
		records: map[string]*types.ResumeRecord{
			"resume-a": {
				ResumeID:             "resume-a",
				TechnicalSkills:      []string{"python", "aws", "Docker"},
				TotalYearsExperience: 5,
			},
			"resume-b": {
				ResumeID:             "resume-b",
				TechnicalSkills:      []string{"Python"},
				TotalYearsExperience: 1,
			},
		},
		failIDs: map[string]bool{},
	}
	return searcher, records
}

// TestRankOrdersByOverallScore 召回顺序与综合分顺序不同时按综合分重排
func TestRankOrdersByOverallScore(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 向量检索先返回 resume-b，但综合分 resume-a 更高
	assert.Equal(t, "resume-a", results[0].ResumeID)
	assert.InDelta(t, 0.94, results[0].OverallScore, 1e-9)
	assert.Equal(t, "resume-b", results[1].ResumeID)
	assert.InDelta(t, 0.48, results[1].OverallScore, 1e-9)
}

// TestRankOversampling 召回数量为 topK 乘以过采样倍数
func TestRankOversampling(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records, WithOversampleFactor(5))
	require.NoError(t, err)

	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, searcher.lastLimit)
}

// TestRankOversampleFactorClamped 过采样倍数收敛到 [1,10]
func TestRankOversampleFactorClamped(t *testing.T) {
	searcher, records := rankTestFixture()

	ranker, err := NewRanker(NewScorer(), searcher, records, WithOversampleFactor(100))
	require.NoError(t, err)
	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 20, searcher.lastLimit)

	ranker, err = NewRanker(NewScorer(), searcher, records, WithOversampleFactor(0))
	require.NoError(t, err)
	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, searcher.lastLimit)
}

// MockSizedSearcher 带索引大小上报能力的模拟检索器
type MockSizedSearcher struct {
	MockVectorSearcher
	count    int64
	countErr error
}

func (m *MockSizedSearcher) CountPoints(ctx context.Context) (int64, error) {
	return m.count, m.countErr
}

// TestRankRecallClampedToIndexSize 召回数量不超过索引中的点数
func TestRankRecallClampedToIndexSize(t *testing.T) {
	base, records := rankTestFixture()
	searcher := &MockSizedSearcher{MockVectorSearcher: *base, count: 3}

	ranker, err := NewRanker(NewScorer(), searcher, records, WithOversampleFactor(5))
	require.NoError(t, err)

	// topK=2 过采样5倍本应召回10，但索引里只有3个点
	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.lastLimit)

	// 点数上报失败时退回 topK*oversample
	searcher.countErr = errors.New("集合不可用")
	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, searcher.lastLimit)
}

// TestRankTruncatesToTopK 结果数量不超过 topK
func TestRankTruncatesToTopK(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "resume-a", results[0].ResumeID)
}

// TestRankFewerCandidatesThanTopK 候选人不足 topK 时返回全部，不报错
func TestRankFewerCandidatesThanTopK(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TestRankEmptyIndex 空索引返回空列表
func TestRankEmptyIndex(t *testing.T) {
	searcher := &MockVectorSearcher{hits: nil}
	records := &MockRecordStore{records: map[string]*types.ResumeRecord{}, failIDs: map[string]bool{}}
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

// TestRankSkipsFailedLookups 记录查找失败的候选人被跳过，不中断整批
func TestRankSkipsFailedLookups(t *testing.T) {
	searcher, records := rankTestFixture()
	records.failIDs["resume-b"] = true

	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "resume-a", results[0].ResumeID)
}

// TestRankSkipsInvalidVectors 向量维度不匹配的候选人被跳过
func TestRankSkipsInvalidVectors(t *testing.T) {
	searcher, records := rankTestFixture()
	searcher.hits[0].Vector = []float64{1} // resume-b 的向量维度错误

	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "resume-a", results[0].ResumeID)
}

// TestRankSearchFailureIsFatal 向量检索本身失败时整个调用报错
func TestRankSearchFailureIsFatal(t *testing.T) {
	searcher := &MockVectorSearcher{err: errors.New("连接超时")}
	records := &MockRecordStore{records: map[string]*types.ResumeRecord{}, failIDs: map[string]bool{}}
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVectorSearchFailed)
}

// TestRankMissingJobVectorIsFatal 岗位向量缺失时整个调用报错
func TestRankMissingJobVectorIsFatal(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	_, err = ranker.Rank(context.Background(), rankTestJob(), nil, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

// TestRankInvalidTopK top_k 必须为正整数
func TestRankInvalidTopK(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 0)
	require.Error(t, err)
	_, err = ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, -3)
	require.Error(t, err)
}

// TestRankIsIdempotent 相同输入重复调用返回相同的有序结果
func TestRankIsIdempotent(t *testing.T) {
	searcher, records := rankTestFixture()
	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	first, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// TestRankTieBreakDeterminism 综合分与语义分都相同时按 ResumeID 升序
func TestRankTieBreakDeterminism(t *testing.T) {
	// 三个完全相同的候选人，仅ID不同
	identical := func(id string) *types.ResumeRecord {
		return &types.ResumeRecord{
			ResumeID:             id,
			TechnicalSkills:      []string{"Python", "AWS"},
			TotalYearsExperience: 5,
		}
	}
	searcher := &MockVectorSearcher{
		hits: []SearchHit{
			{ResumeID: "resume-c", Vector: []float64{1, 0}},
			{ResumeID: "resume-a", Vector: []float64{1, 0}},
			{ResumeID: "resume-b", Vector: []float64{1, 0}},
		},
	}
	records := &MockRecordStore{
		records: map[string]*types.ResumeRecord{
			"resume-a": identical("resume-a"),
			"resume-b": identical("resume-b"),
			"resume-c": identical("resume-c"),
		},
		failIDs: map[string]bool{},
	}

	ranker, err := NewRanker(NewScorer(), searcher, records)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		results, err := ranker.Rank(context.Background(), rankTestJob(), []float64{1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "resume-a", results[0].ResumeID)
		assert.Equal(t, "resume-b", results[1].ResumeID)
		assert.Equal(t, "resume-c", results[2].ResumeID)
	}
}
