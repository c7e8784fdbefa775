package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
)

type fakeEmbedder struct {
	vec []float32
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }

func newTestSemanticCache(t *testing.T, embedder fakeEmbedder) (*SemanticCache, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l1 := NewMemoryL1(100, nil, nil)
	l2 := NewRedisL2FromClient(client, nil, nil)
	tiered, err := NewTieredCache(l1, l2, config.DefaultTieredCacheConfig(), nil, nil)
	require.NoError(t, err)

	sc, err := NewSemanticCache(tiered, embedder, config.DefaultSemanticCacheConfig(), nil, nil)
	require.NoError(t, err)

	return sc, func() {
		client.Close()
		mr.Close()
	}
}

func TestSemanticCache_NormalizeQuery_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, NormalizeQuery("What   is  Go?"), NormalizeQuery("what is go?"))
}

func TestSemanticCache_Lookup_MissWhenEmpty(t *testing.T) {
	sc, cleanup := newTestSemanticCache(t, fakeEmbedder{vec: []float32{1, 0, 0}})
	defer cleanup()

	res := sc.Lookup(context.Background(), "hello world")
	assert.Equal(t, models.TierMiss, res.Tier)
	assert.False(t, res.IsUsable)
}

func TestSemanticCache_Lookup_ExactHitAfterStore(t *testing.T) {
	sc, cleanup := newTestSemanticCache(t, fakeEmbedder{vec: []float32{1, 0, 0}})
	defer cleanup()
	ctx := context.Background()

	wrote, err := sc.Store(ctx, "hello world", []byte("payload"), 0.95)
	require.NoError(t, err)
	require.True(t, wrote)

	res := sc.Lookup(ctx, "hello world")
	require.True(t, res.IsUsable)
	assert.Equal(t, models.TierExact, res.Tier)
	assert.Equal(t, []byte("payload"), res.Data)
}

func TestSemanticCache_Lookup_HighSimilarityServesDifferentQuery(t *testing.T) {
	sc, cleanup := newTestSemanticCache(t, fakeEmbedder{vec: []float32{1, 0, 0}})
	defer cleanup()
	ctx := context.Background()

	_, err := sc.Store(ctx, "what is the capital of france", []byte("paris"), 0.9)
	require.NoError(t, err)

	// Same embedding vector (fakeEmbedder always returns the same vector) but
	// a different query string, so only the similarity scan -- not the exact
	// key -- can serve it.
	res := sc.Lookup(ctx, "what's the capital of france")
	require.True(t, res.IsUsable)
	assert.Equal(t, models.TierExact, res.Tier) // cosine similarity of identical vectors is 1.0
	assert.Equal(t, []byte("paris"), res.Data)
}

func TestSemanticCache_Lookup_MediumTierIsNotUsable(t *testing.T) {
	cfg := config.DefaultSemanticCacheConfig()
	assert.False(t, func() bool {
		_, usable := classifyTier(0.90, cfg)
		return usable
	}())
}

func TestSemanticCache_Store_SkipsBelowRelevanceThreshold(t *testing.T) {
	sc, cleanup := newTestSemanticCache(t, fakeEmbedder{vec: []float32{1, 0, 0}})
	defer cleanup()
	ctx := context.Background()

	wrote, err := sc.Store(ctx, "low value query", []byte("payload"), 0.01)
	require.NoError(t, err)
	assert.False(t, wrote)

	res := sc.Lookup(ctx, "low value query")
	assert.Equal(t, models.TierMiss, res.Tier)
}

func TestSemanticCache_Stats_CountsRequestsAndHitRate(t *testing.T) {
	sc, cleanup := newTestSemanticCache(t, fakeEmbedder{vec: []float32{1, 0, 0}})
	defer cleanup()
	ctx := context.Background()

	_, err := sc.Store(ctx, "q", []byte("v"), 0.9)
	require.NoError(t, err)

	sc.Lookup(ctx, "q")
	// A vector orthogonal to the stored one, so the similarity scan cannot serve this query.
	sc.embedder = fakeEmbedder{vec: []float32{0, 1, 0}}
	sc.Lookup(ctx, "unrelated miss entirely")

	stats := sc.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.ExactHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarity_MismatchedLengthReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}
