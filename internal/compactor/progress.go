package compactor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/ragcore/internal/cache"
)

// Progress is the compaction lifecycle stage published for the status
// endpoint to poll, per spec §4.7's 10/30/60/85/100% checkpoints.
type Progress struct {
	ConversationID string    `json:"conversation_id"`
	Percent        int       `json:"percent"`
	Stage          string    `json:"stage"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const progressTTL = 10 * time.Minute

// PublishProgress writes the current compaction stage to Redis so a
// concurrent status poll can observe it.
func PublishProgress(ctx context.Context, client *redis.Client, conversationID string, percent int, stage string) error {
	data, err := json.Marshal(Progress{ConversationID: conversationID, Percent: percent, Stage: stage, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("compaction progress: marshal: %w", err)
	}
	return client.Set(ctx, cache.CompactionProgressKey(conversationID), data, progressTTL).Err()
}

// ReadProgress returns the last published progress for a conversation, or
// (Progress{}, false) if nothing has been published or it has expired.
func ReadProgress(ctx context.Context, client *redis.Client, conversationID string) (Progress, bool) {
	data, err := client.Get(ctx, cache.CompactionProgressKey(conversationID)).Bytes()
	if err != nil {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, false
	}
	return p, true
}
