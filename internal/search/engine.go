// Package search implements the hybrid search engine: dense/sparse/fuzzy/
// ilike retrieval fused by reciprocal rank fusion, with an RPC-first,
// client-fallback ordering for every method that has a server-side
// counterpart (spec §4.5, grounded on hybrid_search_service.py).
package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// chunkStore is the subset of *database.ChunkRepository the engine needs,
// narrowed to an interface so tests can substitute a fake without a live
// Postgres connection.
type chunkStore interface {
	MatchChunks(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error)
	SearchBM25(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error)
	SearchFuzzy(ctx context.Context, queryText string, limit int, minSimilarity float64, namespace *string) ([]models.Chunk, []float64, error)
	SearchILike(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error)
	HybridSearchRPC(ctx context.Context, p database.HybridSearchRPCParams) ([]models.SearchResult, error)
	Stats(ctx context.Context) (database.SearchStats, error)
}

// Engine runs searches against a chunkStore. Its client-side BM25 fallback
// computes term frequencies and document lengths over whatever candidate set
// it has in hand, exactly like the original's Python implementation operates
// over the documents it already fetched rather than the whole corpus.
type Engine struct {
	store    chunkStore
	embedder embedding.Embedder
	logger   observability.Logger
	metrics  observability.MetricsClient
}

func NewEngine(store chunkStore, embedder embedding.Embedder, logger observability.Logger, metrics observability.MetricsClient) *Engine {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Engine{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

// Search dispatches to the requested method.
func (e *Engine) Search(ctx context.Context, query string, method models.SearchMethod, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	switch method {
	case models.MethodDense:
		return e.denseSearch(ctx, query, namespace, cfg)
	case models.MethodSparse:
		return e.sparseSearchRPCFirst(ctx, query, namespace, cfg)
	case models.MethodFuzzy:
		return e.fuzzySearchRPCFirst(ctx, query, namespace, cfg)
	case models.MethodILike:
		return e.ilikeSearch(ctx, query, namespace, cfg)
	case models.MethodHybrid, models.MethodHybridRPC:
		return e.hybridSearchRPCFirst(ctx, query, namespace, cfg)
	default:
		return e.hybridSearchRPCFirst(ctx, query, namespace, cfg)
	}
}

// Stats reports corpus-wide search readiness counters (spec §6 external
// interfaces, supplemented from hybrid_search_service.py's get_search_stats).
func (e *Engine) Stats(ctx context.Context) (database.SearchStats, error) {
	return e.store.Stats(ctx)
}

func (e *Engine) denseSearch(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	chunks, scores, err := e.store.MatchChunks(ctx, vec, cfg.MinDenseScore, cfg.DenseTopK, namespace)
	if err != nil {
		return nil, err
	}
	return toRankedResults(chunks, scores, models.MethodDense), nil
}

// hybridSearchRPCFirst tries the one-shot server-side fusion, falling back
// to the client-side dense+sparse+fuzzy fan-out and RRF on any RPC error
// (spec §4.5, grounded on HybridSearchService._hybrid_search_rpc).
func (e *Engine) hybridSearchRPCFirst(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	if cfg.UseRPC {
		vec, err := e.embedder.Embed(ctx, query)
		if err == nil {
			results, rpcErr := e.store.HybridSearchRPC(ctx, database.HybridSearchRPCParams{
				QueryText:       query,
				QueryEmbedding:  vec,
				DenseWeight:     cfg.DenseWeight,
				SparseWeight:    cfg.SparseWeight,
				FuzzyWeight:     cfg.FuzzyWeight,
				DenseThreshold:  cfg.MinDenseScore,
				SparseThreshold: cfg.MinSparseScore,
				FuzzyThreshold:  cfg.MinFuzzyScore,
				DenseCount:      cfg.DenseTopK,
				SparseCount:     cfg.SparseTopK,
				FuzzyCount:      cfg.FuzzyTopK,
				RRFK:            cfg.RRFK,
				TopK:            cfg.TopK,
				Namespace:       namespace,
			})
			if rpcErr == nil {
				return results, nil
			}
			e.logger.Warn("hybrid_search RPC failed, falling back to client-side fusion", map[string]interface{}{"error": rpcErr.Error()})
		}
	}
	return e.clientHybridSearch(ctx, query, namespace, cfg)
}

// clientHybridSearch runs dense/sparse/fuzzy concurrently and fuses with RRF.
func (e *Engine) clientHybridSearch(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	var wg sync.WaitGroup
	var denseResults, sparseResults, fuzzyResults []models.SearchResult

	if cfg.EnableDense {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := e.denseSearch(ctx, query, namespace, cfg); err == nil {
				denseResults = res
			} else {
				e.logger.Warn("dense search failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	if cfg.EnableSparse {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := e.sparseSearchClient(ctx, query, namespace, cfg); err == nil {
				sparseResults = res
			} else {
				e.logger.Warn("sparse search failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	if cfg.EnableFuzzy {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := e.fuzzySearchClient(ctx, query, namespace, cfg); err == nil {
				fuzzyResults = res
			} else {
				e.logger.Warn("fuzzy search failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	wg.Wait()

	fused := ReciprocalRankFusion(cfg, denseResults, sparseResults, fuzzyResults)
	if len(fused) > cfg.TopK {
		fused = fused[:cfg.TopK]
	}
	return fused, nil
}

func (e *Engine) sparseSearchRPCFirst(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	chunks, scores, err := e.store.SearchBM25(ctx, query, cfg.SparseTopK, cfg.MinSparseScore, namespace)
	if err == nil {
		return toRankedResults(chunks, scores, models.MethodSparse), nil
	}
	e.logger.Warn("search_chunks_bm25 RPC failed, falling back to client-side BM25", map[string]interface{}{"error": err.Error()})
	return e.sparseSearchClient(ctx, query, namespace, cfg)
}

func (e *Engine) fuzzySearchRPCFirst(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	chunks, scores, err := e.store.SearchFuzzy(ctx, query, cfg.FuzzyTopK, cfg.MinFuzzyScore, namespace)
	if err == nil {
		return toRankedResults(chunks, scores, models.MethodFuzzy), nil
	}
	e.logger.Warn("search_chunks_fuzzy RPC failed, falling back to client-side fuzzy match", map[string]interface{}{"error": err.Error()})
	return e.fuzzySearchClient(ctx, query, namespace, cfg)
}

// ilikeSearch has no client-side fallback: the original's _ilike_search logs
// and returns empty on RPC error rather than degrading further, since a
// substring scan has no cheaper client-side equivalent worth computing.
func (e *Engine) ilikeSearch(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	chunks, scores, err := e.store.SearchILike(ctx, query, cfg.TopK, namespace)
	if err != nil {
		e.logger.Error("ilike search failed, no fallback available", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return toRankedResults(chunks, scores, models.MethodILike), nil
}

// bm25K1, bm25B, and bm25AvgDocLength are the Okapi BM25 constants used by
// the client-side fallback, unchanged from the server-less reference
// implementation (k1=1.5, b=0.75, avg doc length 500, no corpus-wide IDF
// term since the fallback only ever sees the in-memory candidate set).
const (
	bm25K1          = 1.5
	bm25B           = 0.75
	bm25AvgDocLen   = 500.0
)

func (e *Engine) sparseSearchClient(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	chunks, _, err := e.store.SearchILike(ctx, query, cfg.SparseTopK*3, namespace)
	if err != nil {
		return nil, err
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type scored struct {
		chunk models.Chunk
		score float64
	}
	var candidates []scored
	for _, c := range chunks {
		score := bm25Score(terms, c.Content)
		if score >= cfg.MinSparseScore {
			candidates = append(candidates, scored{chunk: c, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > cfg.SparseTopK {
		candidates = candidates[:cfg.SparseTopK]
	}

	results := make([]models.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = models.SearchResult{ChunkID: c.chunk.ChunkID, Content: c.chunk.Content, FileID: c.chunk.FileID, Metadata: c.chunk.Metadata, Score: c.score, Rank: i + 1, Method: models.MethodSparse}
	}
	return results, nil
}

// bm25Score computes a simplified, no-IDF BM25 score normalized by the
// number of query terms, exactly matching the client-side fallback of the
// original service.
func bm25Score(queryTerms []string, content string) float64 {
	docTerms := tokenize(content)
	docLen := float64(len(docTerms))
	if docLen == 0 {
		return 0
	}
	freq := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		freq[t]++
	}

	var total float64
	for _, qt := range queryTerms {
		tf := float64(freq[qt])
		if tf == 0 {
			continue
		}
		numerator := tf * (bm25K1 + 1)
		denominator := tf + bm25K1*(1-bm25B+bm25B*(docLen/bm25AvgDocLen))
		total += numerator / denominator
	}
	if len(queryTerms) == 0 {
		return 0
	}
	return total / float64(len(queryTerms))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) fuzzySearchClient(ctx context.Context, query string, namespace *string, cfg config.HybridSearchConfig) ([]models.SearchResult, error) {
	chunks, _, err := e.store.SearchILike(ctx, query, cfg.FuzzyTopK*3, namespace)
	if err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)

	type scored struct {
		chunk models.Chunk
		score float64
	}
	var candidates []scored
	for _, c := range chunks {
		score := tokenSortRatio(lowerQuery, strings.ToLower(c.Content))
		if score >= cfg.MinFuzzyScore {
			candidates = append(candidates, scored{chunk: c, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > cfg.FuzzyTopK {
		candidates = candidates[:cfg.FuzzyTopK]
	}

	results := make([]models.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = models.SearchResult{ChunkID: c.chunk.ChunkID, Content: c.chunk.Content, FileID: c.chunk.FileID, Metadata: c.chunk.Metadata, Score: c.score, Rank: i + 1, Method: models.MethodFuzzy}
	}
	return results, nil
}

// tokenSortRatio approximates rapidfuzz's token_sort_ratio: sort each
// string's whitespace tokens alphabetically, then score by normalized edit
// distance, returned in [0,1] (the original divides the 0-100 rapidfuzz
// score by 100).
func tokenSortRatio(a, b string) float64 {
	sortedA := sortedTokens(a)
	sortedB := sortedTokens(b)
	if sortedA == "" && sortedB == "" {
		return 1
	}
	dist := levenshtein(sortedA, sortedB)
	maxLen := len(sortedA)
	if len(sortedB) > maxLen {
		maxLen = len(sortedB)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func toRankedResults(chunks []models.Chunk, scores []float64, method models.SearchMethod) []models.SearchResult {
	results := make([]models.SearchResult, len(chunks))
	for i, c := range chunks {
		results[i] = models.SearchResult{ChunkID: c.ChunkID, Content: c.Content, FileID: c.FileID, Metadata: c.Metadata, Score: scores[i], Rank: i + 1, Method: method}
	}
	return results
}

// NDCG computes normalized discounted cumulative gain for a ranked result
// list against its own scores as the ideal ordering (used to report
// reranking quality, spec §4.5).
func NDCG(results []models.SearchResult, k int) float64 {
	if len(results) == 0 {
		return 0
	}
	if k > len(results) || k <= 0 {
		k = len(results)
	}
	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += (math.Pow(2, results[i].Score) - 1) / math.Log2(float64(i+2))
	}

	ideal := make([]float64, len(results))
	for i, r := range results {
		ideal[i] = r.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	idcg := 0.0
	for i := 0; i < k; i++ {
		idcg += (math.Pow(2, ideal[i]) - 1) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}
