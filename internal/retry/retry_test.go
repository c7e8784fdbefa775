package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_Execute_SucceedsWithoutRetryOnFirstSuccess(t *testing.T) {
	p := NewExponentialBackoff(Config{})
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoff_Execute_RetriesUntilSuccess(t *testing.T) {
	p := NewExponentialBackoff(Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 5})
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExponentialBackoff_Execute_GivesUpAtMaxRetries(t *testing.T) {
	p := NewExponentialBackoff(Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxRetries: 3})
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExponentialBackoff_Execute_StopsOnContextCancellation(t *testing.T) {
	p := NewExponentialBackoff(Config{InitialInterval: 50 * time.Millisecond, MaxRetries: 20})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Execute(ctx, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts should run after the context is cancelled")
}

func TestExponentialBackoff_NextDelay_GrowsWithAttemptAndCapsAtMaxInterval(t *testing.T) {
	p := NewExponentialBackoff(Config{InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Multiplier: 2.0})
	eb := p.(*ExponentialBackoff)

	d1 := eb.NextDelay(1)
	d3 := eb.NextDelay(3)

	assert.InDelta(t, 100*time.Millisecond, d1, float64(30*time.Millisecond))
	// attempt 3 would be 400ms uncapped; MaxInterval caps it at 300ms (+/- jitter).
	assert.LessOrEqual(t, d3, 300*time.Millisecond+60*time.Millisecond)
}
