// Package cache implements the L1/L2/tiered/semantic cache composition
// described by the core's caching components (C1-C4).
package cache

import (
	"context"
	"time"
)

// KV is the single-level cache contract shared by L1 and L2 (spec §4.1,
// §4.2). Connection failures must surface as a miss to the caller — they are
// never propagated as hard errors from Get.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns up to limit keys matching a prefix-style glob pattern.
	// Used only by the semantic-similarity scan.
	Scan(ctx context.Context, pattern string, limit int) ([]string, error)
	Info(ctx context.Context) (Info, error)
	Close() error
}

// Info reports health and observability data for a cache level.
type Info struct {
	Connected   bool
	MemoryBytes int64
}

// Durable extends KV with the cleanup operation specific to L2 (spec §4.2).
type Durable interface {
	KV
	CleanupExpired(ctx context.Context) (int, error)
}
