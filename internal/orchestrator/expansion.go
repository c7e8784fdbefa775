// Package orchestrator fans a query out into LLM-generated variations,
// searches each concurrently, and aggregates/dedups the results (spec §4.6,
// grounded on query_expansion_service.py and parallel_search_service.py).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// strategyPrompts names the expansion strategies the original service
// supports (spec §4.6).
var strategyPrompts = map[string]string{
	"synonyms":    "Generate variations using synonyms and related terminology.",
	"reformulate": "Rephrase the query using different sentence structures.",
	"specific":    "Add plausible specific details and context to the query.",
	"broad":       "Broaden the query to a more general scope.",
	"balanced":    "Mix synonyms, reformulations, and broadenings evenly.",
	"question":    "Convert the query into natural question forms.",
}

const expansionSystemPrompt = `You expand a user's search query into alternative phrasings that improve
recall. Respond with nothing but a JSON array of strings, one per variation,
in plain text with no numbering or explanation.`

// Expansion is one LLM-generated call's result.
type Expansion struct {
	OriginalQuery  string
	Queries        []string
	Strategy       string
	Cached         bool
	DurationMillis int64
}

type expansionCacheEntry struct {
	queries   []string
	expiresAt time.Time
}

// Expander produces query variations via an LLM completion call, independently
// protected by cenkalti/backoff retry and a sony/gobreaker circuit breaker
// (spec §11 domain stack: a second, independently-wired resilience pairing
// alongside the reranker's hand-rolled one).
type Expander struct {
	completer embedding.Completer
	breaker   *gobreaker.CircuitBreaker
	logger    observability.Logger
	metrics   observability.MetricsClient

	mu    sync.Mutex
	cache map[string]expansionCacheEntry
	ttl   time.Duration
}

func NewExpander(completer embedding.Completer, logger observability.Logger, metrics observability.MetricsClient) *Expander {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	breakerSettings := gobreaker.Settings{
		Name:        "query_expansion_llm",
		MaxRequests: 2,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Expander{
		completer: completer,
		breaker:   gobreaker.NewCircuitBreaker(breakerSettings),
		logger:    logger,
		metrics:   metrics,
		cache:     make(map[string]expansionCacheEntry),
		ttl:       time.Hour,
	}
}

// Expand generates numVariations query variations for the given strategy,
// served from an in-process cache keyed by (query, numVariations, strategy)
// when fresh (spec open question 3: expansion cache TTL chosen as 1 hour,
// matching the original's cache_ttl_seconds default).
func (e *Expander) Expand(ctx context.Context, query string, cfg config.OrchestratorConfig) (Expansion, error) {
	start := time.Now()
	key := fmt.Sprintf("%s|%d|%s", query, cfg.ExpansionCount, cfg.ExpansionStrategy)

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		e.mu.Unlock()
		e.metrics.IncrementCounter("orchestrator.expansion.cache_hit", 1)
		return Expansion{OriginalQuery: query, Queries: entry.queries, Strategy: cfg.ExpansionStrategy, Cached: true}, nil
	}
	e.mu.Unlock()

	queries, err := e.callWithResilience(ctx, query, cfg)
	if err != nil {
		return Expansion{}, err
	}

	e.mu.Lock()
	e.cache[key] = expansionCacheEntry{queries: queries, expiresAt: time.Now().Add(e.ttl)}
	e.mu.Unlock()

	return Expansion{
		OriginalQuery:  query,
		Queries:        queries,
		Strategy:       cfg.ExpansionStrategy,
		DurationMillis: time.Since(start).Milliseconds(),
	}, nil
}

func (e *Expander) callWithResilience(ctx context.Context, query string, cfg config.OrchestratorConfig) ([]string, error) {
	boCfg := backoff.NewExponentialBackOff()
	boCfg.InitialInterval = 100 * time.Millisecond
	boCfg.MaxInterval = 2 * time.Second
	boCfg.MaxElapsedTime = 10 * time.Second
	boCfg.Multiplier = 2.0
	bo := backoff.WithContext(boCfg, ctx)

	var queries []string
	operation := func() error {
		result, err := e.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, cfg.ExpansionTimeout)
			defer cancel()
			return e.requestVariations(callCtx, query, cfg)
		})
		if err != nil {
			return err
		}
		queries = result.([]string)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, 3)); err != nil {
		return nil, fmt.Errorf("query expansion failed: %w", err)
	}
	return queries, nil
}

func (e *Expander) requestVariations(ctx context.Context, query string, cfg config.OrchestratorConfig) ([]string, error) {
	instructions, ok := strategyPrompts[cfg.ExpansionStrategy]
	if !ok {
		instructions = strategyPrompts["balanced"]
	}

	userPrompt := fmt.Sprintf("Query: %q\nNumber of variations: %d\nStrategy: %s\n%s",
		query, cfg.ExpansionCount, cfg.ExpansionStrategy, instructions)

	response, err := e.completer.Complete(ctx, expansionSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	variations, err := parseVariations(response)
	if err != nil {
		return nil, err
	}
	if len(variations) > cfg.ExpansionCount {
		variations = variations[:cfg.ExpansionCount]
	}
	return variations, nil
}

func parseVariations(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("query expansion: no JSON array found in response")
	}
	var variations []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &variations); err != nil {
		return nil, fmt.Errorf("query expansion: parse variations: %w", err)
	}
	return variations, nil
}
