package orchestrator

import (
	"sort"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
)

// queryHit pairs a result with the index of the expanded query that produced
// it, mirroring parallel_search_service.py's (query_idx, result) tuples.
type queryHit struct {
	queryIdx int
	result   models.SearchResult
}

// Aggregate dedups per-query result lists by chunk ID and folds each group of
// hits into a single scored result, per the configured aggregation policy
// (spec §4.6, grounded on parallel_search_service.py's _aggregate_results).
// When enableDedup is false, results are concatenated untouched.
func Aggregate(perQueryResults [][]models.SearchResult, queryCount int, cfg config.OrchestratorConfig, enableDedup bool) []models.SearchResult {
	if !enableDedup {
		var all []models.SearchResult
		for _, results := range perQueryResults {
			all = append(all, results...)
		}
		return all
	}

	resultMap := make(map[string][]queryHit)
	var order []string
	for queryIdx, results := range perQueryResults {
		for _, r := range results {
			if _, seen := resultMap[r.ChunkID]; !seen {
				order = append(order, r.ChunkID)
			}
			resultMap[r.ChunkID] = append(resultMap[r.ChunkID], queryHit{queryIdx: queryIdx, result: r})
		}
	}

	aggregated := make([]models.SearchResult, 0, len(order))
	for _, chunkID := range order {
		instances := resultMap[chunkID]
		base := instances[0].result

		finalScore := aggregateScore(instances, queryCount, cfg.Aggregation)

		queryIndices := make([]int, len(instances))
		originalScores := make([]float64, len(instances))
		for i, hit := range instances {
			queryIndices[i] = hit.queryIdx
			originalScores[i] = hit.result.Score
		}

		metadata := make(map[string]interface{}, len(base.Metadata)+4)
		for k, v := range base.Metadata {
			metadata[k] = v
		}
		metadata["appearances"] = len(instances)
		metadata["query_indices"] = queryIndices
		metadata["original_scores"] = originalScores
		metadata["aggregation_method"] = string(cfg.Aggregation)

		aggregated = append(aggregated, models.SearchResult{
			ChunkID:     chunkID,
			Content:     base.Content,
			Score:       finalScore,
			Rank:        0,
			Method:      models.MethodParallelAggregated,
			Metadata:    metadata,
			FileID:      base.FileID,
			DenseScore:  base.DenseScore,
			SparseScore: base.SparseScore,
			FuzzyScore:  base.FuzzyScore,
			RRFScore:    base.RRFScore,
		})
	}

	return aggregated
}

func aggregateScore(instances []queryHit, queryCount int, policy config.AggregationPolicy) float64 {
	switch policy {
	case config.AggregationScoreWeighted:
		var weightedScore, totalWeight float64
		for _, hit := range instances {
			weight := 1.0 / (1.0 + float64(hit.queryIdx)*0.5)
			weightedScore += hit.result.Score * weight
			totalWeight += weight
		}
		if totalWeight > 0 {
			return weightedScore / totalWeight
		}
		return instances[0].result.Score
	case config.AggregationFrequency:
		if queryCount == 0 {
			return 0
		}
		return float64(len(instances)) / float64(queryCount)
	case config.AggregationMaxScore:
		max := instances[0].result.Score
		for _, hit := range instances[1:] {
			if hit.result.Score > max {
				max = hit.result.Score
			}
		}
		return max
	default:
		var sum float64
		for _, hit := range instances {
			sum += hit.result.Score
		}
		return sum / float64(len(instances))
	}
}

// sortAndLimit orders results by score descending, renumbers ranks 1..N, and
// truncates to maxResults.
func sortAndLimit(results []models.SearchResult, maxResults int) []models.SearchResult {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if maxResults > 0 && maxResults < len(results) {
		results = results[:maxResults]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
