package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/ragcore/internal/observability"
)

// ErrNotFound is returned internally by the redis client wrapper; callers of
// KV.Get never see it, they see the (nil, false) miss tuple instead.
var ErrNotFound = errors.New("cache: not found")

// RedisConfig configures the L2 durable store.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

func (c *RedisConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// RedisL2 is the durable, transactional KV level (C2). It also backs the
// compaction lock and progress-publishing keys since both need the same
// survive-a-restart durability as the cache entries.
type RedisL2 struct {
	client  *redis.Client
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewRedisL2 dials Redis and pings it with a bounded timeout.
func NewRedisL2(ctx context.Context, cfg RedisConfig, logger observability.Logger, metrics observability.MetricsClient) (*RedisL2, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &RedisL2{client: client, logger: logger, metrics: metrics}, nil
}

// NewRedisL2FromClient wraps an already-constructed redis client, used by
// tests backed by miniredis.
func NewRedisL2FromClient(client *redis.Client, logger observability.Logger, metrics observability.MetricsClient) *RedisL2 {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &RedisL2{client: client, logger: logger, metrics: metrics}
}

func (r *RedisL2) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("l2 get failed, treating as miss", map[string]interface{}{"key": key, "error": err.Error()})
		}
		r.metrics.IncrementCounterWithLabels("cache.l2.miss", 1, nil)
		return nil, false
	}
	r.metrics.IncrementCounterWithLabels("cache.l2.hit", 1, nil)
	return data, true
}

func (r *RedisL2) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisL2) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisL2) Scan(ctx context.Context, pattern string, limit int) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, int64(limit)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return keys, err
	}
	return keys, nil
}

func (r *RedisL2) Info(ctx context.Context) (Info, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return Info{Connected: false}, nil
	}
	return Info{Connected: true}, nil
}

func (r *RedisL2) Close() error { return r.client.Close() }

// CleanupExpired is a no-op for Redis: TTL-based expiry is handled natively
// by the server. It exists to satisfy the Durable interface for cache levels
// backed by a store without native TTL sweeping (e.g. a Postgres-backed L2).
func (r *RedisL2) CleanupExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Client exposes the underlying redis client for lock/pubsub use by the
// compactor, which needs primitives beyond the KV interface (SETNX, PUBLISH).
func (r *RedisL2) Client() *redis.Client { return r.client }
