package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJobExtractor 模拟岗位结构化抽取器
type MockJobExtractor struct {
	record *types.JobRecord
	err    error
	called int
}

func (m *MockJobExtractor) ExtractJob(ctx context.Context, jobID string, rawText string) (*types.JobRecord, error) {
	m.called++
	if m.err != nil {
		return nil, m.err
	}
	clone := *m.record
	clone.JobID = jobID
	clone.RawText = rawText
	return &clone, nil
}

// MockJobStore 模拟岗位持久化存储
type MockJobStore struct {
	savedJob    *types.JobRecord
	savedVector *models.JobVector
	row         *models.JobRecordRow
	vectorRow   *models.JobVector
	deleted     []string
	rowErr      error
	vectorErr   error
}

func (m *MockJobStore) SaveJob(ctx context.Context, record *types.JobRecord) error {
	m.savedJob = record
	return nil
}

func (m *MockJobStore) GetJobRow(ctx context.Context, jobID string) (*models.JobRecordRow, error) {
	if m.rowErr != nil {
		return nil, m.rowErr
	}
	if m.row == nil {
		return nil, errors.New("record not found")
	}
	return m.row, nil
}

func (m *MockJobStore) DeleteJob(ctx context.Context, jobID string) error {
	m.deleted = append(m.deleted, jobID)
	return nil
}

func (m *MockJobStore) SaveJobVector(ctx context.Context, jobVector *models.JobVector) error {
	m.savedVector = jobVector
	return nil
}

func (m *MockJobStore) GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error) {
	if m.vectorErr != nil {
		return nil, m.vectorErr
	}
	if m.vectorRow == nil {
		return nil, errors.New("record not found")
	}
	return m.vectorRow, nil
}

// MockJobVectorCache 模拟岗位向量缓存
type MockJobVectorCache struct {
	vector        []float64
	version       string
	getErr        error
	setVectors    map[string][]float64
	deletedIDs    []string
	invalidatedID []string
}

func (m *MockJobVectorCache) SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error {
	if m.setVectors == nil {
		m.setVectors = make(map[string][]float64)
	}
	m.setVectors[jobID] = vector
	return nil
}

func (m *MockJobVectorCache) GetJobVector(ctx context.Context, jobID string) ([]float64, string, error) {
	if m.getErr != nil {
		return nil, "", m.getErr
	}
	return m.vector, m.version, nil
}

func (m *MockJobVectorCache) DeleteJobVector(ctx context.Context, jobID string) error {
	m.deletedIDs = append(m.deletedIDs, jobID)
	return nil
}

func (m *MockJobVectorCache) InvalidateRankSessions(ctx context.Context, jobID string) error {
	m.invalidatedID = append(m.invalidatedID, jobID)
	return nil
}

func jobRowWithRecord(t *testing.T, record *types.JobRecord) *models.JobRecordRow {
	t.Helper()
	data, err := json.Marshal(record)
	require.NoError(t, err)
	return &models.JobRecordRow{
		JobID:              record.JobID,
		JobTitle:           record.Title,
		StructuredDataJSON: models.StringToJSON(string(data)),
	}
}

func TestCreateJob_PersistsRecordAndVector(t *testing.T) {
	store := &MockJobStore{}
	cache := &MockJobVectorCache{getErr: storage.ErrNotFound}
	extractor := &MockJobExtractor{record: &types.JobRecord{
		Title:                   "Go后端工程师",
		RequiredSkills:          []string{"Go", "Redis"},
		RequiredYearsExperience: 3,
	}}
	embedder := &MockEmbedder{vectors: [][]float64{{0.1, 0.9}}, dims: 2}
	p := NewJobProcessorWithDeps(store, cache, extractor, embedder, "text-embedding-v3")

	record, err := p.CreateOrUpdateJob(context.Background(), "", "招聘Go后端工程师，要求3年经验", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, record.JobID)
	assert.Equal(t, "Go后端工程师", record.Title)
	require.NotNil(t, store.savedJob)

	require.NotNil(t, store.savedVector)
	assert.Equal(t, record.JobID, store.savedVector.JobID)
	assert.Equal(t, "text-embedding-v3", store.savedVector.EmbeddingModelVersion)
	var persisted []float64
	require.NoError(t, json.Unmarshal(store.savedVector.VectorRepresentation, &persisted))
	assert.Equal(t, []float64{0.1, 0.9}, persisted)

	assert.Equal(t, []float64{0.1, 0.9}, cache.setVectors[record.JobID])
	assert.Empty(t, cache.invalidatedID, "新建岗位不存在需要失效的排序会话")
}

func TestCreateJob_OverridesApplied(t *testing.T) {
	store := &MockJobStore{}
	cache := &MockJobVectorCache{getErr: storage.ErrNotFound}
	extractor := &MockJobExtractor{record: &types.JobRecord{Title: "LLM识别的标题", RequiredYearsExperience: 3}}
	embedder := &MockEmbedder{vectors: [][]float64{{0.5}}, dims: 1}
	p := NewJobProcessorWithDeps(store, cache, extractor, embedder, "text-embedding-v3")

	record, err := p.CreateOrUpdateJob(context.Background(), "", "岗位描述", &JobOverrides{
		Title:                   "人工指定的标题",
		Company:                 "示例科技",
		RequiredYearsExperience: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "人工指定的标题", record.Title)
	assert.Equal(t, "示例科技", record.Company)
	assert.Equal(t, 5.0, record.RequiredYearsExperience)
	require.NotNil(t, store.savedJob)
	assert.Equal(t, "人工指定的标题", store.savedJob.Title)
}

func TestUpdateJob_InvalidatesRankSessions(t *testing.T) {
	existing := &types.JobRecord{JobID: "job-001", Title: "旧标题"}
	store := &MockJobStore{row: jobRowWithRecord(t, existing)}
	cache := &MockJobVectorCache{getErr: storage.ErrNotFound}
	extractor := &MockJobExtractor{record: &types.JobRecord{Title: "新标题"}}
	embedder := &MockEmbedder{vectors: [][]float64{{0.3}}, dims: 1}
	p := NewJobProcessorWithDeps(store, cache, extractor, embedder, "text-embedding-v3")

	record, err := p.CreateOrUpdateJob(context.Background(), "job-001", "更新后的岗位描述", nil)
	require.NoError(t, err)

	assert.Equal(t, "job-001", record.JobID)
	assert.Contains(t, cache.invalidatedID, "job-001")
}

func TestCreateJob_ExtractionFailureIsFatal(t *testing.T) {
	store := &MockJobStore{}
	extractor := &MockJobExtractor{err: errors.New("LLM返回无法解析的内容")}
	p := NewJobProcessorWithDeps(store, &MockJobVectorCache{}, extractor, &MockEmbedder{}, "text-embedding-v3")

	_, err := p.CreateOrUpdateJob(context.Background(), "", "无效的岗位描述", nil)
	require.Error(t, err)
	assert.Nil(t, store.savedJob, "抽取失败时不应落库")
}

func TestUpdateJob_NotFound(t *testing.T) {
	store := &MockJobStore{rowErr: errors.New("record not found")}
	p := NewJobProcessorWithDeps(store, &MockJobVectorCache{}, &MockJobExtractor{record: &types.JobRecord{}}, &MockEmbedder{}, "text-embedding-v3")

	_, err := p.CreateOrUpdateJob(context.Background(), "missing-job", "描述", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJobVector_RedisHit(t *testing.T) {
	cache := &MockJobVectorCache{vector: []float64{0.7, 0.3}, version: "text-embedding-v3"}
	embedder := &MockEmbedder{err: errors.New("不应调用嵌入器")}
	p := NewJobProcessorWithDeps(&MockJobStore{}, cache, &MockJobExtractor{}, embedder, "text-embedding-v3")

	vector, err := p.GetJobVector(context.Background(), "job-002")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.3}, vector)
}

func TestGetJobVector_MySQLFallback(t *testing.T) {
	vectorBytes, _ := json.Marshal([]float64{0.4, 0.6})
	store := &MockJobStore{vectorRow: &models.JobVector{
		JobID:                 "job-003",
		VectorRepresentation:  vectorBytes,
		EmbeddingModelVersion: "text-embedding-v3",
	}}
	cache := &MockJobVectorCache{getErr: storage.ErrNotFound}
	embedder := &MockEmbedder{err: errors.New("不应调用嵌入器")}
	p := NewJobProcessorWithDeps(store, cache, &MockJobExtractor{}, embedder, "text-embedding-v3")

	vector, err := p.GetJobVector(context.Background(), "job-003")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.6}, vector)
	assert.Equal(t, []float64{0.4, 0.6}, cache.setVectors["job-003"], "MySQL命中后应回填Redis")
}

func TestGetJobVector_StaleModelVersionRecomputes(t *testing.T) {
	record := &types.JobRecord{JobID: "job-004", Title: "算法工程师", Summary: "负责推荐系统"}
	vectorBytes, _ := json.Marshal([]float64{9.9})
	store := &MockJobStore{
		row: jobRowWithRecord(t, record),
		vectorRow: &models.JobVector{
			JobID:                 "job-004",
			VectorRepresentation:  vectorBytes,
			EmbeddingModelVersion: "text-embedding-v1",
		},
	}
	cache := &MockJobVectorCache{vector: []float64{9.9}, version: "text-embedding-v1"}
	embedder := &MockEmbedder{vectors: [][]float64{{0.2, 0.8}}, dims: 2}
	p := NewJobProcessorWithDeps(store, cache, &MockJobExtractor{}, embedder, "text-embedding-v3")

	vector, err := p.GetJobVector(context.Background(), "job-004")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, vector, "模型版本过期时应重算")

	require.NotNil(t, store.savedVector)
	assert.Equal(t, "text-embedding-v3", store.savedVector.EmbeddingModelVersion)
}

func TestDeleteJob_CleansCaches(t *testing.T) {
	record := &types.JobRecord{JobID: "job-005", Title: "测试岗位"}
	store := &MockJobStore{row: jobRowWithRecord(t, record)}
	cache := &MockJobVectorCache{}
	p := NewJobProcessorWithDeps(store, cache, &MockJobExtractor{}, &MockEmbedder{}, "text-embedding-v3")

	err := p.DeleteJob(context.Background(), "job-005")
	require.NoError(t, err)

	assert.Contains(t, store.deleted, "job-005")
	assert.Contains(t, cache.deletedIDs, "job-005")
	assert.Contains(t, cache.invalidatedID, "job-005")
}

func TestGetJob_UnmarshalsStructuredData(t *testing.T) {
	record := &types.JobRecord{
		JobID:                   "job-006",
		Title:                   "前端工程师",
		RequiredSkills:          []string{"TypeScript", "React"},
		RequiredYearsExperience: 2,
	}
	store := &MockJobStore{row: jobRowWithRecord(t, record)}
	p := NewJobProcessorWithDeps(store, &MockJobVectorCache{}, &MockJobExtractor{}, &MockEmbedder{}, "text-embedding-v3")

	got, err := p.GetJob(context.Background(), "job-006")
	require.NoError(t, err)
	assert.Equal(t, "前端工程师", got.Title)
	assert.Equal(t, []string{"TypeScript", "React"}, got.RequiredSkills)
	assert.InDelta(t, 2.0, got.RequiredYearsExperience, 1e-9)
}
