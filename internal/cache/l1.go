package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/S-Corkum/ragcore/internal/observability"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

func (e l1Entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryL1 is the volatile, sub-millisecond KV level (C1). It wraps a
// bounded hashicorp/golang-lru cache with absolute-expiry semantics, since
// the LRU itself has no notion of TTL.
type MemoryL1 struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, l1Entry]
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewMemoryL1 constructs an L1 cache bounded to maxSize entries.
func NewMemoryL1(maxSize int, logger observability.Logger, metrics observability.MetricsClient) *MemoryL1 {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	c, _ := lru.New[string, l1Entry](maxSize)
	return &MemoryL1{entries: c, logger: logger, metrics: metrics}
}

func (m *MemoryL1) Get(ctx context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries.Get(key)
	m.mu.RUnlock()
	if !ok {
		m.metrics.IncrementCounterWithLabels("cache.l1.miss", 1, nil)
		return nil, false
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		m.entries.Remove(key)
		m.mu.Unlock()
		m.metrics.IncrementCounterWithLabels("cache.l1.miss", 1, nil)
		return nil, false
	}
	m.metrics.IncrementCounterWithLabels("cache.l1.hit", 1, nil)
	return entry.value, true
}

func (m *MemoryL1) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries.Add(key, l1Entry{value: value, expiresAt: expiresAt})
	m.mu.Unlock()
	return nil
}

func (m *MemoryL1) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.entries.Remove(key)
	m.mu.Unlock()
	return nil
}

// Scan returns up to limit keys whose prefix (before any trailing "*")
// matches pattern. This is a linear scan over the in-process keyspace,
// adequate for the semantic-similarity candidate set sizes the cache
// targets (spec open question 2 notes the ANN upgrade path at scale).
func (m *MemoryL1) Scan(ctx context.Context, pattern string, limit int) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.entries.Keys()
	now := time.Now()
	out := make([]string, 0, limit)
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entry, ok := m.entries.Peek(k)
		if !ok || entry.expired(now) {
			continue
		}
		out = append(out, k)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryL1) Info(ctx context.Context) (Info, error) {
	m.mu.RLock()
	n := m.entries.Len()
	m.mu.RUnlock()
	return Info{Connected: true, MemoryBytes: int64(n) * 256}, nil
}

func (m *MemoryL1) Close() error { return nil }
