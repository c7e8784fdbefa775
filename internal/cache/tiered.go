package cache

import (
	"context"
	"sync"
	"time"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// ScoredPayload is the minimal shape cache_if_relevant needs to inspect a
// would-be cache write without depending on search/orchestrator types.
type ScoredPayload interface {
	MaxScore() float64
}

// TieredCache composes an L1 and L2 KV level with fallback, promotion, and
// threshold-gated writes (spec §4.3).
type TieredCache struct {
	l1      KV
	l2      KV
	cfg     config.TieredCacheConfig
	logger  observability.Logger
	metrics observability.MetricsClient
}

func NewTieredCache(l1, l2 KV, cfg config.TieredCacheConfig, logger observability.Logger, metrics observability.MetricsClient) (*TieredCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &TieredCache{l1: l1, l2: l2, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Get implements the read path: L1 first, fall to L2 on miss/error,
// optionally promote L2 hits back into L1 asynchronously.
func (t *TieredCache) Get(ctx context.Context, key string) models.CacheLookupResult {
	if t.cfg.L1Enabled {
		if data, ok := t.l1.Get(ctx, key); ok {
			return models.CacheLookupResult{Data: data, Level: models.LevelL1}
		}
	}
	if t.cfg.L2Enabled {
		if data, ok := t.l2.Get(ctx, key); ok {
			if t.cfg.L1Enabled && t.cfg.PromoteToL1 {
				go func() {
					promoteCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := t.l1.Set(promoteCtx, key, data, t.cfg.L1TTL); err != nil {
						t.logger.Warn("l1 promotion failed", map[string]interface{}{"key": key, "error": err.Error()})
					}
				}()
			}
			return models.CacheLookupResult{Data: data, Level: models.LevelL2}
		}
	}
	return models.CacheLookupResult{Level: models.LevelNone}
}

// Set implements the write path: write both levels concurrently, tolerating
// a single-sided failure.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte) error {
	var wg sync.WaitGroup
	var l1Err, l2Err error

	if t.cfg.L1Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l1Err = t.l1.Set(ctx, key, value, t.cfg.L1TTL)
		}()
	}
	if t.cfg.L2Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l2Err = t.l2.Set(ctx, key, value, t.cfg.L2TTL)
		}()
	}
	wg.Wait()

	if t.cfg.L1Enabled && l1Err == nil {
		return nil
	}
	if t.cfg.L2Enabled && l2Err == nil {
		return nil
	}
	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// Delete removes the key from both levels.
func (t *TieredCache) Delete(ctx context.Context, key string) error {
	var l1Err, l2Err error
	if t.cfg.L1Enabled {
		l1Err = t.l1.Delete(ctx, key)
	}
	if t.cfg.L2Enabled {
		l2Err = t.l2.Delete(ctx, key)
	}
	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// CacheIfRelevant writes only when the candidate's max score clears the
// configured threshold, preventing low-quality retrievals from polluting the
// cache (spec §4.3).
func (t *TieredCache) CacheIfRelevant(ctx context.Context, key string, value []byte, payload ScoredPayload) (bool, error) {
	if payload.MaxScore() < t.cfg.SemanticThreshold {
		return false, nil
	}
	if err := t.Set(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// Config returns the effective configuration, used by the semantic cache
// layered on top for threshold gating reuse.
func (t *TieredCache) Config() config.TieredCacheConfig { return t.cfg }

// L1 and L2 expose the underlying levels for components (e.g. the semantic
// cache) that need the raw Scan operation.
func (t *TieredCache) L1() KV { return t.l1 }
func (t *TieredCache) L2() KV { return t.l2 }
