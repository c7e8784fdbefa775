package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
)

func res(id string, score float64) models.SearchResult {
	return models.SearchResult{ChunkID: id, Content: id, Score: score}
}

func TestAggregate_DedupFoldsDuplicatesAcrossQueries(t *testing.T) {
	perQuery := [][]models.SearchResult{
		{res("a", 0.9), res("b", 0.5)},
		{res("a", 0.7)},
	}
	cfg := config.DefaultOrchestratorConfig()

	out := Aggregate(perQuery, 2, cfg, true)
	require.Len(t, out, 2)

	byID := map[string]models.SearchResult{}
	for _, r := range out {
		byID[r.ChunkID] = r
	}
	assert.Equal(t, 2, byID["a"].Metadata["appearances"])
	assert.Equal(t, 1, byID["b"].Metadata["appearances"])
	assert.Equal(t, models.MethodParallelAggregated, byID["a"].Method)
}

func TestAggregate_DisabledDedupConcatenates(t *testing.T) {
	perQuery := [][]models.SearchResult{
		{res("a", 0.9)},
		{res("a", 0.7)},
	}
	out := Aggregate(perQuery, 2, config.DefaultOrchestratorConfig(), false)
	assert.Len(t, out, 2)
}

func TestAggregateScore_FrequencyPolicyIsAppearanceRatio(t *testing.T) {
	instances := []queryHit{{queryIdx: 0, result: res("a", 0.9)}, {queryIdx: 1, result: res("a", 0.5)}}
	score := aggregateScore(instances, 4, config.AggregationFrequency)
	assert.InDelta(t, 0.5, score, 1e-9)
}

func TestAggregateScore_MaxScorePolicyTakesHighest(t *testing.T) {
	instances := []queryHit{{queryIdx: 0, result: res("a", 0.3)}, {queryIdx: 1, result: res("a", 0.8)}}
	score := aggregateScore(instances, 2, config.AggregationMaxScore)
	assert.Equal(t, 0.8, score)
}

func TestAggregateScore_ScoreWeightedFavorsEarlierQueries(t *testing.T) {
	// A hit from query 0 (weight 1) and one from query 5 (weight
	// 1/(1+5*0.5) = 2/7): the weighted average 1/(9/7) = 7/9 lies above the
	// plain mean 0.5, pulled toward the earlier query's score.
	instances := []queryHit{{queryIdx: 0, result: res("a", 1.0)}, {queryIdx: 5, result: res("a", 0.0)}}
	score := aggregateScore(instances, 6, config.AggregationScoreWeighted)
	assert.InDelta(t, 7.0/9.0, score, 1e-9)
}

func TestSortAndLimit_RenumbersRanksAndTruncates(t *testing.T) {
	results := []models.SearchResult{res("c", 0.1), res("a", 0.9), res("b", 0.5)}
	out := sortAndLimit(results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, 2, out[1].Rank)
}
