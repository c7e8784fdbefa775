package rerank

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// Reranker is implemented by both CrossEncoderReranker and LLMReranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []models.SearchResult, opts Options) ([]models.SearchResult, error)
	Name() string
	Close() error
}

// Metrics mirrors the original's search_with_reranking instrumentation
// dict: search/rerank/total timings, counts, provider name, and NDCG.
type Metrics struct {
	SearchTimeMS     int64
	RerankingTimeMS  int64
	TotalTimeMS      int64
	InitialResults   int
	RerankedResults  int
	RerankingProvider string
	NDCG             float64
	Error            string
}

// Service composes a primary (cross-encoder) reranker with an LLM fallback:
// if the primary reranker errors entirely (not just a degraded batch), the
// service retries with the LLM reranker before giving up and returning the
// unreranked candidates (spec §4.5's total-failure path, which the teacher's
// per-batch-only degradation doesn't by itself cover).
type Service struct {
	primary        Reranker
	fallback       Reranker
	scoreThreshold float64
	logger         observability.Logger
}

func NewService(primary, fallback Reranker, scoreThreshold float64, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Service{primary: primary, fallback: fallback, scoreThreshold: scoreThreshold, logger: logger}
}

// Rerank runs the primary reranker, falling back to the LLM reranker on
// total failure, and finally to the untouched candidates if both fail.
// Results below scoreThreshold are dropped, and ranks are renumbered 1..N.
func (s *Service) Rerank(ctx context.Context, query string, candidates []models.SearchResult, topK int) ([]models.SearchResult, Metrics) {
	start := time.Now()
	metrics := Metrics{InitialResults: len(candidates)}

	rerankStart := time.Now()
	reranked, err := s.primary.Rerank(ctx, query, candidates, Options{TopK: topK})
	if err != nil {
		s.logger.Warn("primary reranker failed entirely, falling back to LLM reranker", map[string]interface{}{"error": err.Error()})
		if s.fallback != nil {
			reranked, err = s.fallback.Rerank(ctx, query, candidates, Options{TopK: topK})
		}
		if err != nil {
			metrics.Error = err.Error()
			reranked = candidates
			if topK > 0 && topK < len(reranked) {
				reranked = reranked[:topK]
			}
		} else {
			metrics.RerankingProvider = s.fallback.Name()
		}
	} else {
		metrics.RerankingProvider = s.primary.Name()
	}
	metrics.RerankingTimeMS = time.Since(rerankStart).Milliseconds()

	filtered := reranked[:0]
	for _, r := range reranked {
		if r.Score >= s.scoreThreshold {
			filtered = append(filtered, r)
		}
	}
	for i := range filtered {
		filtered[i].Rank = i + 1
	}

	metrics.RerankedResults = len(filtered)
	metrics.NDCG = ndcg(filtered)
	metrics.TotalTimeMS = time.Since(start).Milliseconds()
	return filtered, metrics
}

func ndcg(results []models.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	dcg := 0.0
	for i, r := range results {
		dcg += (math.Pow(2, r.Score) - 1) / math.Log2(float64(i+2))
	}
	ideal := make([]float64, len(results))
	for i, r := range results {
		ideal[i] = r.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := 0.0
	for i, s := range ideal {
		idcg += (math.Pow(2, s) - 1) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}
