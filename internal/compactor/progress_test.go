package compactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndReadProgress_RoundTrips(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, PublishProgress(ctx, client, "conv-1", 30, "summarizing"))

	p, ok := ReadProgress(ctx, client, "conv-1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", p.ConversationID)
	assert.Equal(t, 30, p.Percent)
	assert.Equal(t, "summarizing", p.Stage)
}

func TestReadProgress_MissingConversationReturnsFalse(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()

	_, ok := ReadProgress(context.Background(), client, "never-published")
	assert.False(t, ok)
}

func TestPublishProgress_LaterCallOverwritesEarlierStage(t *testing.T) {
	client, cleanup := newTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, PublishProgress(ctx, client, "conv-1", 10, "locking"))
	require.NoError(t, PublishProgress(ctx, client, "conv-1", 60, "replacing_messages"))

	p, ok := ReadProgress(ctx, client, "conv-1")
	require.True(t, ok)
	assert.Equal(t, 60, p.Percent)
	assert.Equal(t, "replacing_messages", p.Stage)
}
