package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/orchestrator"
	"github.com/S-Corkum/ragcore/internal/search"
	"github.com/S-Corkum/ragcore/internal/tokenizer"
)

type fakeChunkStore struct{}

func (fakeChunkStore) MatchChunks(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	return []models.Chunk{{ChunkID: "c1", Content: "go is a statically typed language"}}, []float64{0.9}, nil
}
func (fakeChunkStore) SearchBM25(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error) {
	return nil, nil, nil
}
func (fakeChunkStore) SearchFuzzy(ctx context.Context, queryText string, limit int, minSimilarity float64, namespace *string) ([]models.Chunk, []float64, error) {
	return nil, nil, nil
}
func (fakeChunkStore) SearchILike(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	return nil, nil, nil
}
func (fakeChunkStore) HybridSearchRPC(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error) {
	return []models.SearchResult{{ChunkID: "c1", Content: "go is a statically typed language", Score: 0.9, Method: models.MethodHybrid}}, nil
}
func (fakeChunkStore) Stats(ctx context.Context) (database.SearchStats, error) {
	return database.SearchStats{TotalChunks: 42}, nil
}

type fakeModelProvider struct{}

func (fakeModelProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeModelProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return `["expanded variant"]`, nil
}

func newTestAPI(t *testing.T) (*API, *gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := fakeModelProvider{}
	engine := search.NewEngine(fakeChunkStore{}, provider, nil, nil)
	expander := orchestrator.NewExpander(provider, nil, nil)
	orch := orchestrator.NewOrchestrator(expander, engine, nil, nil)

	mockConn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockConn.Close() })
	sqlxDB := sqlx.NewDb(mockConn, "postgres")
	db := database.NewFromConn(sqlxDB, nil, nil)
	contexts := database.NewContextRepository(db)

	api := NewAPI(engine, nil, orch, expander, nil, contexts, tokenizer.NewWordHeuristicCounter(),
		config.DefaultHybridSearchConfig(), config.DefaultOrchestratorConfig(), config.DefaultContextConfig(), nil, nil)

	router := gin.New()
	v1 := router.Group("/v1")
	api.RegisterRoutes(v1)
	return api, router, mock
}

func TestHandleSearch_ValidRequestReturnsResults(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query": "what is go"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go is a statically typed language")
}

func TestHandleSearch_MissingQueryReturnsBadRequest(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_InvalidMethodReturnsBadRequest(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query": "q", "method": "not-a-method"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchStats_ReturnsStoreStats(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/search/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "42")
}

func TestHandleExpand_ValidRequestReturnsExpansion(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/expand", strings.NewReader(`{"query": "go concurrency"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expanded variant")
}

func TestHandleParallelSearch_ValidRequestFansOutAndReturnsResults(t *testing.T) {
	_, router, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/search/parallel", strings.NewReader(`{"query": "go concurrency"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unique_count")
}

func TestHandleGetContextWindow_ReturnsStatusForExistingContext(t *testing.T) {
	_, router, mock := newTestAPI(t)

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "user_id", "total_tokens", "max_tokens", "threshold_percent", "last_compaction_at"}).
		AddRow("ctx-1", "conv-1", "", 1000, 200000, 80, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent, last_compaction_at")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM context_messages")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "context_id", "role", "content", "token_count", "is_protected", "position", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/context-window/conv-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "conv-1")
}
