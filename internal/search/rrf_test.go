package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
)

func hit(chunkID string, rank int, score float64, method models.SearchMethod) models.SearchResult {
	return models.SearchResult{ChunkID: chunkID, Content: chunkID, Rank: rank, Score: score, Method: method}
}

func TestReciprocalRankFusion_AccumulatesAcrossMethods(t *testing.T) {
	cfg := config.DefaultHybridSearchConfig()

	dense := []models.SearchResult{hit("a", 1, 0.9, models.MethodDense), hit("b", 2, 0.8, models.MethodDense)}
	sparse := []models.SearchResult{hit("b", 1, 5.0, models.MethodSparse), hit("c", 2, 3.0, models.MethodSparse)}
	fuzzy := []models.SearchResult{hit("a", 1, 0.7, models.MethodFuzzy)}

	fused := ReciprocalRankFusion(cfg, dense, sparse, fuzzy)
	require.Len(t, fused, 3)

	byID := map[string]models.SearchResult{}
	for _, r := range fused {
		byID[r.ChunkID] = r
	}

	wantA := cfg.DenseWeight/(float64(cfg.RRFK)+1) + cfg.FuzzyWeight/(float64(cfg.RRFK)+1)
	wantB := cfg.DenseWeight/(float64(cfg.RRFK)+2) + cfg.SparseWeight/(float64(cfg.RRFK)+1)
	wantC := cfg.SparseWeight / (float64(cfg.RRFK) + 2)

	assert.InDelta(t, wantA, byID["a"].Score, 1e-9)
	assert.InDelta(t, wantB, byID["b"].Score, 1e-9)
	assert.InDelta(t, wantC, byID["c"].Score, 1e-9)

	// "a" scores higher than "b" here since it gets a rank-1 contribution from
	// two methods; ranks in the fused output must be contiguous 1..N sorted
	// descending by score.
	assert.Equal(t, 1, fused[0].Rank)
	assert.Equal(t, 2, fused[1].Rank)
	assert.Equal(t, 3, fused[2].Rank)
	for i := 1; i < len(fused); i++ {
		assert.GreaterOrEqual(t, fused[i-1].Score, fused[i].Score)
	}
}

func TestReciprocalRankFusion_TiebreaksByDenseScoreThenChunkID(t *testing.T) {
	cfg := config.DefaultHybridSearchConfig()
	cfg.DenseWeight, cfg.SparseWeight, cfg.FuzzyWeight = 1, 1, 1

	// Both chunks land at the same RRF contribution (rank 1, sparse-only), so
	// the tiebreak must fall through to dense score, then chunk ID.
	sparse := []models.SearchResult{hit("z", 1, 1.0, models.MethodSparse), hit("y", 1, 1.0, models.MethodSparse)}
	fused := ReciprocalRankFusion(cfg, nil, sparse, nil)
	require.Len(t, fused, 2)
	assert.Equal(t, "y", fused[0].ChunkID)
	assert.Equal(t, "z", fused[1].ChunkID)
}

func TestReciprocalRankFusion_EmptyInputsYieldEmptyOutput(t *testing.T) {
	cfg := config.DefaultHybridSearchConfig()
	fused := ReciprocalRankFusion(cfg, nil, nil, nil)
	assert.Empty(t, fused)
}

func TestNDCG_PerfectOrderingScoresOne(t *testing.T) {
	results := []models.SearchResult{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "c", Score: 0.1},
	}
	assert.InDelta(t, 1.0, NDCG(results, 3), 1e-9)
}

func TestNDCG_ReversedOrderingScoresBelowOne(t *testing.T) {
	results := []models.SearchResult{
		{ChunkID: "a", Score: 0.1},
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "c", Score: 0.9},
	}
	assert.Less(t, NDCG(results, 3), 1.0)
}

func TestNDCG_EmptyResultsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, NDCG(nil, 10))
}
