package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/S-Corkum/ragcore/internal/cache"
	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/S-Corkum/ragcore/internal/search"
)

// Result is the orchestrator's top-level response: the expanded queries
// actually searched plus the aggregated, deduped, ranked results.
type Result struct {
	OriginalQuery   string
	ExpandedQueries []string
	Results         []models.SearchResult
	UniqueCount     int
	Duration        time.Duration
}

// Orchestrator expands a query into variations, fans each out to the search
// engine concurrently (bounded by a semaphore), and aggregates the combined
// hits (spec §4.6, grounded on parallel_search_service.py's ParallelSearchService).
type Orchestrator struct {
	expander      *Expander
	engine        *search.Engine
	semanticCache *cache.SemanticCache
	logger        observability.Logger
	metrics       observability.MetricsClient
}

func NewOrchestrator(expander *Expander, engine *search.Engine, logger observability.Logger, metrics observability.MetricsClient) *Orchestrator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Orchestrator{expander: expander, engine: engine, logger: logger, metrics: metrics}
}

// WithSemanticCache attaches a semantic cache the orchestrator consults
// before expansion/fan-out and populates after aggregation (spec §4.4 data
// flow: orchestrator -> semantic cache get -> miss -> expand -> fan-out ->
// aggregate -> semantic cache put). Passing nil disables the cache.
func (o *Orchestrator) WithSemanticCache(sc *cache.SemanticCache) *Orchestrator {
	o.semanticCache = sc
	return o
}

// Search expands query, searches every variation (plus the original) in
// parallel, and returns the aggregated result set. A per-query search
// failure does not poison the whole call: it is logged and treated as an
// empty result list, matching asyncio.gather(..., return_exceptions=True)'s
// post-processing in the original service.
func (o *Orchestrator) Search(ctx context.Context, query string, method models.SearchMethod, namespace *string, hybridCfg config.HybridSearchConfig, orchCfg config.OrchestratorConfig) (Result, error) {
	start := time.Now()

	if o.semanticCache != nil {
		if cached, ok := o.lookupCache(ctx, query); ok {
			o.metrics.IncrementCounter("orchestrator.search.semantic_cache_hit", 1)
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	queries := []string{query}
	if len(query) >= orchCfg.MinQueryLength {
		expansion, err := o.expander.Expand(ctx, query, orchCfg)
		if err != nil {
			o.logger.Warn("query expansion failed, searching original query only", map[string]interface{}{"error": err.Error()})
		} else {
			queries = append(queries, expansion.Queries...)
		}
	}

	perQueryResults := o.fanOut(ctx, queries, method, namespace, hybridCfg, orchCfg)

	enableDedup := true
	aggregated := Aggregate(perQueryResults, len(queries), orchCfg, enableDedup)
	filtered := aggregated[:0]
	for _, r := range aggregated {
		if r.Score >= orchCfg.MinSimilarityScore {
			filtered = append(filtered, r)
		}
	}
	final := sortAndLimit(filtered, orchCfg.MaxResults)

	elapsed := time.Since(start)
	o.metrics.RecordHistogram("orchestrator.search.duration", elapsed.Seconds(), nil)
	o.metrics.RecordGauge("orchestrator.search.unique_results", float64(len(final)), nil)

	result := Result{
		OriginalQuery:   query,
		ExpandedQueries: queries,
		Results:         final,
		UniqueCount:     len(final),
		Duration:        elapsed,
	}

	if o.semanticCache != nil {
		o.storeCache(ctx, query, result)
	}

	return result, nil
}

// lookupCache consults the semantic cache for a usable (EXACT or HIGH tier)
// hit, returning the decoded Result if found.
func (o *Orchestrator) lookupCache(ctx context.Context, query string) (Result, bool) {
	lookup := o.semanticCache.Lookup(ctx, query)
	if !lookup.IsUsable {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(lookup.Data, &result); err != nil {
		o.logger.Warn("semantic cache hit had undecodable payload, treating as miss", map[string]interface{}{"error": err.Error()})
		return Result{}, false
	}
	return result, true
}

// storeCache writes the aggregated result back to the semantic cache, gated
// by the same relevance threshold the tiered cache enforces on every write.
func (o *Orchestrator) storeCache(ctx context.Context, query string, result Result) {
	data, err := json.Marshal(result)
	if err != nil {
		o.logger.Warn("failed to encode orchestrator result for semantic cache", map[string]interface{}{"error": err.Error()})
		return
	}
	maxScore := 0.0
	for _, r := range result.Results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	if _, err := o.semanticCache.Store(ctx, query, data, maxScore); err != nil {
		o.logger.Warn("failed to write orchestrator result to semantic cache", map[string]interface{}{"error": err.Error()})
	}
}

// fanOut runs one search per query, bounded by a weighted semaphore sized to
// MaxConcurrentSearches.
func (o *Orchestrator) fanOut(ctx context.Context, queries []string, method models.SearchMethod, namespace *string, hybridCfg config.HybridSearchConfig, orchCfg config.OrchestratorConfig) [][]models.SearchResult {
	sem := semaphore.NewWeighted(int64(orchCfg.MaxConcurrentSearches))
	results := make([][]models.SearchResult, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				o.logger.Warn("fan-out: failed to acquire search slot", map[string]interface{}{"query_index": i, "error": err.Error()})
				return
			}
			defer sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, orchCfg.PerCallTimeout)
			defer cancel()

			res, err := o.engine.Search(callCtx, q, method, namespace, hybridCfg)
			if err != nil {
				o.logger.Warn("fan-out: per-query search failed, treating as empty", map[string]interface{}{"query_index": i, "error": err.Error()})
				o.metrics.IncrementCounter("orchestrator.search.query_failure", 1.0)
				res = nil
			}
			results[i] = res
		}()
	}
	wg.Wait()

	return results
}
