package storage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectionInfoResponse = `{"result": {"config": {"params": {"vectors": {"size": 1024, "distance": "Cosine"}}}}}`

// TestQdrant_NewQdrant 测试Qdrant客户端初始化
func TestQdrant_NewQdrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(collectionInfoResponse))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  1024,
	}

	client, err := storage.NewQdrant(cfg,
		storage.WithDistanceMetric("Cosine"),
		storage.WithHttpTimeout(5*time.Second))

	require.NoError(t, err, "应该成功创建Qdrant客户端")
	require.NotNil(t, client, "客户端不应为nil")
}

// TestQdrant_StoreResumeVector 测试存储简历文档向量
func TestQdrant_StoreResumeVector(t *testing.T) {
	var upsertBody struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(collectionInfoResponse))
			return
		}

		if r.URL.Path == "/collections/test_collection/points" && r.Method == "PUT" {
			if err := json.NewDecoder(r.Body).Decode(&upsertBody); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"operation_id": 123, "status": "completed"}, "status": "ok", "time": 0.001}`))
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  1024,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err, "应该成功创建Qdrant客户端")

	resumeID := "test-resume-123"
	embedding := make([]float64, 1024)
	for i := 0; i < 1024; i++ {
		embedding[i] = float64(i) / 1024.0
	}

	ctx := context.Background()
	pointID, err := client.StoreResumeVector(ctx, resumeID, embedding, map[string]interface{}{
		"name": "测试候选人",
	})

	require.NoError(t, err, "向量存储应成功")
	assert.Equal(t, client.PointIDForResume(resumeID), pointID, "点ID应由resumeID确定性生成")

	require.Len(t, upsertBody.Points, 1, "应写入一个点")
	assert.Equal(t, pointID, upsertBody.Points[0].ID)
	assert.Equal(t, resumeID, upsertBody.Points[0].Payload["resume_id"], "payload应携带resume_id")
	assert.Equal(t, "测试候选人", upsertBody.Points[0].Payload["name"])
}

// TestQdrant_StoreResumeVector_DimensionMismatch 测试维度不匹配时直接报错
func TestQdrant_StoreResumeVector_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(collectionInfoResponse))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  1024,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	_, err = client.StoreResumeVector(context.Background(), "resume-1", []float64{0.1, 0.2}, nil)
	require.Error(t, err, "维度不匹配应报错")
}

// TestQdrant_SearchSimilarResumes 测试相似简历搜索及命中向量回传
func TestQdrant_SearchSimilarResumes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(collectionInfoResponse))
			return
		}

		if r.URL.Path == "/collections/test_collection/points/search" && r.Method == "POST" {
			var searchReq map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&searchReq); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			// 排序侧依赖存储向量回传
			if withVector, _ := searchReq["with_vector"].(bool); !withVector {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": [
					{
						"id": "9a0c3f1e-0000-5000-8000-000000000001",
						"score": 0.95,
						"payload": {"resume_id": "test-resume-123", "name": "张三"},
						"vector": [0.1, 0.2]
					},
					{
						"id": "9a0c3f1e-0000-5000-8000-000000000002",
						"score": 0.80,
						"payload": {"name": "没有resume_id的脏数据"},
						"vector": [0.3, 0.4]
					}
				],
				"status": "ok",
				"time": 0.001
			}`))
			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  1024,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err, "应该成功创建Qdrant客户端")

	queryVector := make([]float64, 1024)
	for i := 0; i < 1024; i++ {
		queryVector[i] = float64(i) / 1024.0
	}

	ctx := context.Background()
	hits, err := client.SearchSimilarResumes(ctx, queryVector, 10)

	require.NoError(t, err, "向量搜索应成功")
	require.Len(t, hits, 1, "缺少resume_id的点应被跳过")
	assert.Equal(t, "test-resume-123", hits[0].ResumeID)
	assert.InDelta(t, 0.95, hits[0].Score, 0.01)
	assert.Equal(t, []float64{0.1, 0.2}, hits[0].Vector, "应回传存储的向量")
}
