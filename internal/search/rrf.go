package search

import (
	"sort"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
)

// ReciprocalRankFusion combines per-method ranked lists into one list scored
// by rrf[chunk] += weight / (k + rank), breaking ties by higher dense_score
// then lower chunk_id (spec §4.5, §8 S1).
func ReciprocalRankFusion(cfg config.HybridSearchConfig, dense, sparse, fuzzy []models.SearchResult) []models.SearchResult {
	merged := map[string]*models.SearchResult{}

	accumulate := func(list []models.SearchResult, weight float64, assign func(r *models.SearchResult, score float64)) {
		for _, res := range list {
			contribution := weight / (float64(cfg.RRFK) + float64(res.Rank))
			existing, ok := merged[res.ChunkID]
			if !ok {
				clone := res.Clone()
				clone.Method = models.MethodHybrid
				zero := 0.0
				clone.RRFScore = &zero
				merged[res.ChunkID] = &clone
				existing = merged[res.ChunkID]
			}
			*existing.RRFScore += contribution
			score := res.Score
			assign(existing, score)
		}
	}

	accumulate(dense, cfg.DenseWeight, func(r *models.SearchResult, score float64) { r.DenseScore = &score })
	accumulate(sparse, cfg.SparseWeight, func(r *models.SearchResult, score float64) { r.SparseScore = &score })
	accumulate(fuzzy, cfg.FuzzyWeight, func(r *models.SearchResult, score float64) { r.FuzzyScore = &score })

	out := make([]models.SearchResult, 0, len(merged))
	for _, r := range merged {
		r.Score = *r.RRFScore
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		di, dj := 0.0, 0.0
		if out[i].DenseScore != nil {
			di = *out[i].DenseScore
		}
		if out[j].DenseScore != nil {
			dj = *out[j].DenseScore
		}
		if di != dj {
			return di > dj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
