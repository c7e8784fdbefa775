package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryL1_SetGetRoundTrip(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "k", []byte("v"), time.Minute))
	data, ok := l1.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)
}

func TestMemoryL1_MissOnUnknownKey(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	_, ok := l1.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestMemoryL1_ExpiresAfterTTL(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok := l1.Get(ctx, "k")
	assert.False(t, ok, "entry must be treated as a miss once its TTL has elapsed")
}

func TestMemoryL1_ZeroTTLNeverExpires(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "k", []byte("v"), 0))
	_, ok := l1.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryL1_Delete(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, l1.Delete(ctx, "k"))

	_, ok := l1.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryL1_Scan_MatchesPrefixAndRespectsLimit(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "search:sem:a", []byte("1"), time.Minute))
	require.NoError(t, l1.Set(ctx, "search:sem:b", []byte("2"), time.Minute))
	require.NoError(t, l1.Set(ctx, "other:c", []byte("3"), time.Minute))

	keys, err := l1.Scan(ctx, "search:sem:*", 10)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	limited, err := l1.Scan(ctx, "search:sem:*", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryL1_Scan_ExcludesExpiredEntries(t *testing.T) {
	l1 := NewMemoryL1(10, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "search:sem:a", []byte("1"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	keys, err := l1.Scan(ctx, "search:sem:*", 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryL1_EvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	l1 := NewMemoryL1(2, nil, nil)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, l1.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, l1.Set(ctx, "c", []byte("3"), 0))

	_, aOK := l1.Get(ctx, "a")
	_, cOK := l1.Get(ctx, "c")
	assert.False(t, aOK, "oldest entry should have been evicted once capacity was exceeded")
	assert.True(t, cOK)
}
