// Package resilience implements the circuit-breaker pattern used to guard
// outbound calls to the reranker, the embedding provider, and the LLM used
// for query expansion and summarization.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/S-Corkum/ragcore/internal/observability"
)

// CircuitBreakerState is one of the three states of the breaker state
// machine.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrCircuitTimeout    = errors.New("circuit breaker call timed out")
	ErrMaxHalfOpenProbes = errors.New("circuit breaker half-open probe limit exceeded")
)

// CircuitBreakerConfig tunes the trip/recovery behavior.
type CircuitBreakerConfig struct {
	FailureThreshold    int           // consecutive failures before tripping
	FailureRatio        float64       // failure ratio over MinimumRequestCount before tripping
	ResetTimeout        time.Duration // how long Open is held before probing
	SuccessThreshold    int           // consecutive half-open successes required to close
	MaxRequestsHalfOpen int           // concurrent probe calls allowed while half-open
	TimeoutThreshold    time.Duration // per-call timeout enforced by Execute
	MinimumRequestCount int           // requests required before the ratio trip applies
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.MaxRequestsHalfOpen <= 0 {
		c.MaxRequestsHalfOpen = 2
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = 5 * time.Second
	}
	if c.MinimumRequestCount <= 0 {
		c.MinimumRequestCount = 10
	}
}

type counts struct {
	requests            int64
	failures            int64
	consecutiveFailures int64
	consecutiveSuccess  int64
}

// CircuitBreaker is a single named breaker instance. State and counts are
// guarded by a mutex, held only briefly before and after each call.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger observability.Logger
	metric observability.MetricsClient

	mu              sync.Mutex
	state           CircuitBreakerState
	counts          counts
	lastFailureAt   time.Time
	lastStateChange time.Time
	halfOpenInFlight int32
}

// NewCircuitBreaker constructs a named breaker with defaults applied.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &CircuitBreaker{
		name:            name,
		config:          cfg,
		logger:          logger,
		metric:          metrics,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// State reports the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailureAt) > cb.config.ResetTimeout {
			cb.transitionToLocked(StateHalfOpen)
			// This call is the first half-open probe.
			cb.halfOpenInFlight = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= int32(cb.config.MaxRequestsHalfOpen) {
			return ErrMaxHalfOpenProbes
		}
		cb.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// Execute runs fn under the breaker's protection, enforcing a per-call
// timeout race against ctx cancellation.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := cb.canExecute(); err != nil {
		cb.metric.IncrementCounterWithLabels("circuit_breaker.rejected", 1, map[string]string{"name": cb.name})
		return nil, err
	}

	type result struct {
		val interface{}
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, err := fn()
		resultCh <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		cb.recordFailure()
		return nil, ctx.Err()
	case <-time.After(cb.config.TimeoutThreshold):
		cb.recordFailure()
		cb.metric.IncrementCounterWithLabels("circuit_breaker.timeout", 1, map[string]string{"name": cb.name})
		return nil, ErrCircuitTimeout
	case r := <-resultCh:
		if r.err != nil {
			cb.recordFailure()
			return nil, r.err
		}
		cb.recordSuccess()
		return r.val, nil
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.requests++
	cb.counts.consecutiveSuccess++
	cb.counts.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight--
		if cb.counts.consecutiveSuccess >= int64(cb.config.SuccessThreshold) {
			cb.transitionToLocked(StateClosed)
		}
	}
	cb.metric.IncrementCounterWithLabels("circuit_breaker.success", 1, map[string]string{"name": cb.name})
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.requests++
	cb.counts.failures++
	cb.counts.consecutiveFailures++
	cb.counts.consecutiveSuccess = 0
	cb.lastFailureAt = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.transitionToLocked(StateOpen)
	case StateClosed:
		ratioTripped := cb.counts.requests >= int64(cb.config.MinimumRequestCount) &&
			float64(cb.counts.failures)/float64(cb.counts.requests) >= cb.config.FailureRatio
		if cb.counts.consecutiveFailures >= int64(cb.config.FailureThreshold) || ratioTripped {
			cb.transitionToLocked(StateOpen)
		}
	}
	cb.metric.IncrementCounterWithLabels("circuit_breaker.failure", 1, map[string]string{"name": cb.name})
}

// transitionToLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionToLocked(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	if to == StateHalfOpen || to == StateClosed {
		cb.counts = counts{}
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.name, "from": from.String(), "to": to.String(),
	})
	cb.metric.RecordGauge("circuit_breaker.state", float64(to), map[string]string{"name": cb.name})
}
