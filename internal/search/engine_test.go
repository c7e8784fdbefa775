package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/models"
)

// fakeStore is a hand-rolled chunkStore substitute, avoiding a live Postgres
// connection for engine-level tests (no sqlmock expectations needed here
// since the engine never touches sqlx directly).
type fakeStore struct {
	matchChunks     func(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error)
	searchBM25      func(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error)
	searchFuzzy     func(ctx context.Context, queryText string, limit int, minSimilarity float64, namespace *string) ([]models.Chunk, []float64, error)
	searchILike     func(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error)
	hybridSearchRPC func(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error)
	stats           func(ctx context.Context) (database.SearchStats, error)
}

func (f *fakeStore) MatchChunks(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	return f.matchChunks(ctx, embedding, threshold, limit, namespace)
}
func (f *fakeStore) SearchBM25(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error) {
	return f.searchBM25(ctx, queryText, limit, minRank, namespace)
}
func (f *fakeStore) SearchFuzzy(ctx context.Context, queryText string, limit int, minSimilarity float64, namespace *string) ([]models.Chunk, []float64, error) {
	return f.searchFuzzy(ctx, queryText, limit, minSimilarity, namespace)
}
func (f *fakeStore) SearchILike(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	return f.searchILike(ctx, substr, limit, namespace)
}
func (f *fakeStore) HybridSearchRPC(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error) {
	return f.hybridSearchRPC(ctx, p)
}
func (f *fakeStore) Stats(ctx context.Context) (database.SearchStats, error) {
	return f.stats(ctx)
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (e fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, e.err
}

func TestEngine_Search_HybridRPCSucceeds_NoClientFallback(t *testing.T) {
	store := &fakeStore{
		hybridSearchRPC: func(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error) {
			return []models.SearchResult{{ChunkID: "x", Score: 0.99, Method: models.MethodHybridRPC}}, nil
		},
		searchBM25: func(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error) {
			t.Fatal("client-side fallback must not run when the RPC succeeds")
			return nil, nil, nil
		},
	}
	engine := NewEngine(store, fakeEmbedder{vec: []float32{0.1, 0.2}}, nil, nil)

	results, err := engine.Search(context.Background(), "hello", models.MethodHybrid, nil, config.DefaultHybridSearchConfig())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].ChunkID)
}

func TestEngine_Search_HybridRPCFails_FallsBackToClientFusion(t *testing.T) {
	store := &fakeStore{
		hybridSearchRPC: func(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error) {
			return nil, errors.New("function hybrid_search does not exist")
		},
		matchChunks: func(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error) {
			return []models.Chunk{{ChunkID: "a", Content: "alpha"}}, []float64{0.9}, nil
		},
		searchILike: func(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
			return []models.Chunk{{ChunkID: "a", Content: "alpha content about go"}}, nil, nil
		},
	}
	engine := NewEngine(store, fakeEmbedder{vec: []float32{0.1, 0.2}}, nil, nil)

	results, err := engine.Search(context.Background(), "alpha", models.MethodHybrid, nil, config.DefaultHybridSearchConfig())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, models.MethodHybrid, results[0].Method)
}

func TestEngine_Search_ILike_NoFallbackOnError(t *testing.T) {
	store := &fakeStore{
		searchILike: func(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
			return nil, nil, errors.New("connection refused")
		},
	}
	engine := NewEngine(store, fakeEmbedder{}, nil, nil)

	results, err := engine.Search(context.Background(), "substr", models.MethodILike, nil, config.DefaultHybridSearchConfig())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_Search_Sparse_FallsBackOnRPCError(t *testing.T) {
	store := &fakeStore{
		searchBM25: func(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error) {
			return nil, nil, errors.New("rpc unavailable")
		},
		searchILike: func(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
			return []models.Chunk{{ChunkID: "a", Content: "go is a language"}, {ChunkID: "b", Content: "unrelated text"}}, nil, nil
		},
	}
	cfg := config.DefaultHybridSearchConfig()
	cfg.MinSparseScore = 0
	engine := NewEngine(store, fakeEmbedder{}, nil, nil)

	results, err := engine.Search(context.Background(), "go language", models.MethodSparse, nil, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, models.MethodSparse, results[0].Method)
}

func TestEngine_Stats_DelegatesToStore(t *testing.T) {
	store := &fakeStore{
		stats: func(ctx context.Context) (database.SearchStats, error) {
			return database.SearchStats{TotalChunks: 42, ChunksWithTSV: 10, TotalEmbeddings: 42}, nil
		},
	}
	engine := NewEngine(store, fakeEmbedder{}, nil, nil)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.TotalChunks)
}
