package compactor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestLock_Acquire_SucceedsWhenUnheld(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	lock := NewLock(client, "conv-1", time.Minute)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Acquire_FailsWhenAlreadyHeld(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	first := NewLock(client, "conv-1", time.Minute)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewLock(client, "conv-1", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a second lock on the same conversation must not be grantable while the first is held")
}

func TestLock_Release_FreesKeyForNextAcquirer(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	first := NewLock(client, "conv-1", time.Minute)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx))

	second := NewLock(client, "conv-1", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Release_DoesNotClobberANewerHoldersLock(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	first := NewLock(client, "conv-1", time.Millisecond)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate first's TTL expiring: miniredis only expires keys when its
	// clock is advanced, never on wall-clock time.
	require.NoError(t, client.Del(ctx, first.key).Err())

	second := NewLock(client, "conv-1", time.Minute)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "second should win the lock once the first's TTL expired")

	// first's stale Release call must not delete second's still-valid lock,
	// since it no longer holds the token stored under the key.
	require.NoError(t, first.Release(ctx))

	held, err := Held(ctx, client, "conv-1")
	require.NoError(t, err)
	assert.True(t, held, "second holder's lock must survive a stale release from the expired first holder")
}

func TestHeld_FalseWhenNoLockExists(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	held, err := Held(context.Background(), client, "conv-never-locked")
	require.NoError(t, err)
	assert.False(t, held)
}
