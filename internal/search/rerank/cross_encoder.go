// Package rerank reorders hybrid search candidates with a cross-encoder
// model over HTTP, guarded by a circuit breaker and retry policy, with an
// LLM-based fallback when the cross-encoder is unavailable (spec §4.5,
// grounded on pkg/embedding/rerank/cross_encoder.go).
package rerank

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/S-Corkum/ragcore/internal/resilience"
	"github.com/S-Corkum/ragcore/internal/retry"
)

// Provider calls out to the cross-encoder scoring endpoint.
type Provider interface {
	Rerank(ctx context.Context, query string, documents []string, model string) ([]ScoredDocument, error)
}

// ScoredDocument is one document's cross-encoder score, indexed back to its
// position in the request batch.
type ScoredDocument struct {
	Index int
	Score float64
}

// CrossEncoderConfig configures the cross-encoder reranker. Defaults mirror
// the teacher's cross_encoder instance exactly (BatchSize 10, MaxConcurrency
// 3, TimeoutPerBatch 5s).
type CrossEncoderConfig struct {
	Model              string
	BatchSize          int
	MaxConcurrency     int
	TimeoutPerBatch    time.Duration
	CircuitBreakerName string
}

func (c *CrossEncoderConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.TimeoutPerBatch == 0 {
		c.TimeoutPerBatch = 5 * time.Second
	}
	if c.CircuitBreakerName == "" {
		c.CircuitBreakerName = fmt.Sprintf("reranker_%s", c.Model)
	}
}

// Options bounds the reranker's output.
type Options struct {
	TopK int
}

// CrossEncoderReranker reorders results in batches, each batch individually
// protected by a circuit breaker wrapped in retry.
type CrossEncoderReranker struct {
	provider    Provider
	config      CrossEncoderConfig
	breaker     *resilience.CircuitBreaker
	retryPolicy retry.Policy
	semaphore   *semaphore.Weighted
	logger      observability.Logger
	metrics     observability.MetricsClient
}

func NewCrossEncoderReranker(provider Provider, config CrossEncoderConfig, logger observability.Logger, metrics observability.MetricsClient) (*CrossEncoderReranker, error) {
	if provider == nil {
		return nil, fmt.Errorf("rerank: provider is required")
	}
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	breaker := resilience.NewCircuitBreaker(config.CircuitBreakerName, resilience.CircuitBreakerConfig{
		FailureThreshold:    5,
		FailureRatio:        0.5,
		ResetTimeout:        30 * time.Second,
		SuccessThreshold:    2,
		MaxRequestsHalfOpen: 2,
		TimeoutThreshold:    10 * time.Second,
	}, logger, metrics)

	retryPolicy := retry.NewExponentialBackoff(retry.Config{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      3,
	})

	return &CrossEncoderReranker{
		provider:    provider,
		config:      config,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		semaphore:   semaphore.NewWeighted(int64(config.MaxConcurrency)),
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Rerank reorders results in batches. A batch that fails after retries
// degrades gracefully: its original (unreranked) results are kept rather
// than dropped, matching the per-batch degradation of the teacher's
// implementation. Within one call the batches are scored one after another;
// the semaphore (MaxConcurrency slots) only bounds how many batches
// concurrent Rerank calls have in flight together.
func (c *CrossEncoderReranker) Rerank(ctx context.Context, query string, results []models.SearchResult, opts Options) ([]models.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	ctx, span := observability.StartSpan(ctx, "rerank.cross_encoder")
	defer span.End()
	span.SetAttribute("model", c.config.Model)
	span.SetAttribute("input_count", len(results))

	start := time.Now()
	defer func() {
		c.metrics.RecordHistogram("rerank.cross_encoder.duration", time.Since(start).Seconds(), map[string]string{"model": c.config.Model})
	}()

	batches := createBatches(results, c.config.BatchSize)
	allReranked := make([]models.SearchResult, 0, len(results))

	for batchIdx, batch := range batches {
		if err := c.semaphore.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire semaphore: %w", err)
		}

		reranked, err := c.processBatchWithRetry(ctx, query, batch)
		c.semaphore.Release(1)

		if err != nil {
			c.logger.Error("batch reranking failed", map[string]interface{}{"batch": batchIdx, "error": err.Error()})
			c.metrics.IncrementCounter("rerank.cross_encoder.batch_failure", 1.0)
			allReranked = append(allReranked, batch...)
			continue
		}
		allReranked = append(allReranked, reranked...)
	}

	sort.Slice(allReranked, func(i, j int) bool { return allReranked[i].Score > allReranked[j].Score })
	if opts.TopK > 0 && opts.TopK < len(allReranked) {
		allReranked = allReranked[:opts.TopK]
	}

	span.SetAttribute("output_count", len(allReranked))
	c.metrics.IncrementCounter("rerank.cross_encoder.success", 1.0)
	return allReranked, nil
}

func (c *CrossEncoderReranker) processBatchWithRetry(ctx context.Context, query string, batch []models.SearchResult) ([]models.SearchResult, error) {
	var rerankedBatch []models.SearchResult
	var lastErr error

	err := c.retryPolicy.Execute(ctx, func(ctx context.Context) error {
		result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
			batchCtx, cancel := context.WithTimeout(ctx, c.config.TimeoutPerBatch)
			defer cancel()

			documents := make([]string, len(batch))
			for i, r := range batch {
				documents[i] = r.Content
			}

			scores, err := c.provider.Rerank(batchCtx, query, documents, c.config.Model)
			if err != nil {
				lastErr = err
				return nil, err
			}

			reranked := make([]models.SearchResult, len(batch))
			copy(reranked, batch)
			for _, sd := range scores {
				if sd.Index < 0 || sd.Index >= len(reranked) {
					continue
				}
				original := reranked[sd.Index].Score
				reranked[sd.Index].Score = sd.Score
				if reranked[sd.Index].Metadata == nil {
					reranked[sd.Index].Metadata = make(map[string]interface{})
				}
				reranked[sd.Index].Metadata["original_score"] = original
				reranked[sd.Index].Metadata["rerank_model"] = c.config.Model
				reranked[sd.Index].Metadata["reranked"] = true
			}
			return reranked, nil
		})
		if err != nil {
			return err
		}
		rerankedBatch = result.([]models.SearchResult)
		return nil
	})
	if err != nil {
		c.metrics.IncrementCounter("rerank.cross_encoder.batch_failure", 1.0)
		return nil, fmt.Errorf("batch reranking failed after retries: %w", lastErr)
	}
	return rerankedBatch, nil
}

func createBatches(results []models.SearchResult, batchSize int) [][]models.SearchResult {
	var batches [][]models.SearchResult
	for i := 0; i < len(results); i += batchSize {
		end := i + batchSize
		if end > len(results) {
			end = len(results)
		}
		batches = append(batches, results[i:end])
	}
	return batches
}

func (c *CrossEncoderReranker) Name() string { return fmt.Sprintf("cross_encoder_%s", c.config.Model) }
func (c *CrossEncoderReranker) Close() error { return nil }
