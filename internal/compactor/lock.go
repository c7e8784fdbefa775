// Package compactor implements token-budget-triggered context summarization
// with distributed locking and checkpointing (spec §4.7, grounded on
// context_manager_service.py and checkpoint_service.py).
package compactor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/ragcore/internal/cache"
)

// Lock is a Redis SETNX-based distributed mutex guarding one conversation's
// compaction at a time.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock builds (but does not acquire) a lock for conversationID.
func NewLock(client *redis.Client, conversationID string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    cache.CompactionLockKey(conversationID),
		token:  fmt.Sprintf("%d", time.Now().UnixNano()),
		ttl:    ttl,
	}
}

// Acquire attempts to set the lock key, returning false if another
// compaction already holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("compaction lock: acquire: %w", err)
	}
	return ok, nil
}

// Held reports whether the lock is currently held by anyone.
func Held(ctx context.Context, client *redis.Client, conversationID string) (bool, error) {
	n, err := client.Exists(ctx, cache.CompactionLockKey(conversationID)).Result()
	if err != nil {
		return false, fmt.Errorf("compaction lock: check: %w", err)
	}
	return n > 0, nil
}

// releaseScript only deletes the key if it still holds our token, so a lock
// we lost to expiry never clobbers a newer holder's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// Release deletes the lock iff it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("compaction lock: release: %w", err)
	}
	return nil
}
