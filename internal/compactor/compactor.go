package compactor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/S-Corkum/ragcore/internal/tokenizer"
)

// ErrAlreadyCompacting is returned when another compaction already holds
// the conversation's lock.
var ErrAlreadyCompacting = errors.New("compactor: compaction already in progress")

// Outcome summarizes what a Compact call did.
type Outcome struct {
	Compacted          bool
	CheckpointID       string
	SummaryMessageID   string
	TokensBefore       int
	TokensAfter        int
	SummaryTokens      int
	MessagesSummarized int
}

// Compactor implements the token-budget-triggered summarization pipeline
// (spec §4.7): should-compact check, distributed lock, pre-compaction
// checkpoint, partitioning, LLM summarization, atomic replace, progress
// publishing, and checkpoint lifecycle enforcement.
type Compactor struct {
	contexts   *database.ContextRepository
	redis      *redis.Client
	summarizer *Summarizer
	counter    tokenizer.Counter
	cfg        config.CompactorConfig
	logger     observability.Logger
	metrics    observability.MetricsClient
}

func New(contexts *database.ContextRepository, redisClient *redis.Client, summarizer *Summarizer, counter tokenizer.Counter, cfg config.CompactorConfig, logger observability.Logger, metrics observability.MetricsClient) *Compactor {
	if counter == nil {
		counter = tokenizer.NewWordHeuristicCounter()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Compactor{contexts: contexts, redis: redisClient, summarizer: summarizer, counter: counter, cfg: cfg, logger: logger, metrics: metrics}
}

// ShouldCompact reports whether ctxState has crossed its compaction
// threshold and is eligible to compact right now (spec §4.7: token
// threshold, minimum message count, cooldown, no existing lock).
func (c *Compactor) ShouldCompact(ctx context.Context, ctxState models.ConversationContext, messageCount int) (bool, error) {
	thresholdTokens := ctxState.MaxTokens * ctxState.ThresholdPercent / 100
	if ctxState.TotalTokens < thresholdTokens {
		return false, nil
	}
	if messageCount < c.cfg.MinMessagesForCompaction {
		return false, nil
	}
	if ctxState.LastCompactionAt != nil {
		elapsed := time.Since(*ctxState.LastCompactionAt)
		if elapsed < time.Duration(c.cfg.CooldownSeconds)*time.Second {
			return false, nil
		}
	}
	held, err := Held(ctx, c.redis, ctxState.ConversationID)
	if err != nil {
		return false, err
	}
	return !held, nil
}

// Progress returns the last published compaction stage for conversationID,
// or (_, false) if nothing has been published or it has expired.
func (c *Compactor) Progress(ctx context.Context, conversationID string) (models.CompactionProgress, bool) {
	p, ok := ReadProgress(ctx, c.redis, conversationID)
	if !ok {
		return models.CompactionProgress{}, false
	}
	return models.CompactionProgress{Percent: p.Percent, Stage: p.Stage, UpdatedAt: p.UpdatedAt}, true
}

// IsCompacting reports whether a compaction lock is currently held for
// conversationID, used by the context-window status endpoint.
func (c *Compactor) IsCompacting(ctx context.Context, conversationID string) (bool, error) {
	return Held(ctx, c.redis, conversationID)
}

// Compact runs the full compaction pipeline for a conversation. It returns
// ErrAlreadyCompacting if another compaction holds the lock, and
// Outcome{Compacted: false} if there was nothing to summarize. It does not
// check the token threshold or cooldown; ShouldCompact does that.
func (c *Compactor) Compact(ctx context.Context, conversationID, userID string) (Outcome, error) {
	lock := NewLock(c.redis, conversationID, c.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !acquired {
		return Outcome{}, ErrAlreadyCompacting
	}
	defer lock.Release(ctx)

	PublishProgress(ctx, c.redis, conversationID, 10, "locked")

	messages, err := c.contexts.ListMessages(ctx, conversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("compactor: list messages: %w", err)
	}

	checkpoint, err := c.snapshot(ctx, conversationID, userID, messages, TriggerPreCompaction)
	if err != nil {
		return Outcome{}, fmt.Errorf("compactor: pre-compaction checkpoint: %w", err)
	}
	PublishProgress(ctx, c.redis, conversationID, 30, "checkpointed")

	partition := BuildPartition(messages, c.cfg.PreserveRecent)
	if len(partition.Summarizable) == 0 {
		PublishProgress(ctx, c.redis, conversationID, 100, "nothing_to_summarize")
		return Outcome{Compacted: false, CheckpointID: checkpoint.ID}, nil
	}

	summaryText, err := c.summarizer.Summarize(ctx, partition.Summarizable)
	if err != nil {
		return Outcome{}, fmt.Errorf("compactor: summarize: %w", err)
	}
	PublishProgress(ctx, c.redis, conversationID, 60, "summarized")

	tokensBefore := totalTokens(messages)
	summaryMsg := models.ContextMessage{
		ContextID:   partition.Summarizable[0].ContextID,
		Role:        models.RoleSystem,
		Content:     summaryText,
		TokenCount:  c.counter.CountMessageTokens(summaryText, models.RoleSystem),
		IsProtected: true,
		Position:    partition.Summarizable[0].Position,
	}

	inserted, err := c.contexts.ReplaceMessages(ctx, summaryMsg.ContextID, summaryMsg, partition.SummarizableIDs())
	if err != nil {
		return Outcome{}, fmt.Errorf("compactor: replace messages: %w", err)
	}
	PublishProgress(ctx, c.redis, conversationID, 85, "replaced")

	ordered := orderedIDsAfterReplace(partition, inserted)
	if err := c.contexts.RenumberPositions(ctx, summaryMsg.ContextID, ordered); err != nil {
		return Outcome{}, fmt.Errorf("compactor: renumber positions: %w", err)
	}

	tokensAfter := tokensBefore - sumTokens(partition.Summarizable) + inserted.TokenCount
	if err := c.contexts.UpdateTotalTokens(ctx, summaryMsg.ContextID, tokensAfter); err != nil {
		return Outcome{}, fmt.Errorf("compactor: update total tokens: %w", err)
	}
	if err := c.contexts.SetLastCompactionAt(ctx, summaryMsg.ContextID, time.Now()); err != nil {
		return Outcome{}, fmt.Errorf("compactor: set last compaction: %w", err)
	}

	if err := c.enforceCheckpointCap(ctx, conversationID); err != nil {
		c.logger.Warn("compactor: failed to enforce checkpoint cap", map[string]interface{}{"error": err.Error()})
	}

	PublishProgress(ctx, c.redis, conversationID, 100, "complete")
	c.metrics.IncrementCounter("compactor.compactions", 1)

	return Outcome{
		Compacted:          true,
		CheckpointID:       checkpoint.ID,
		SummaryMessageID:   inserted.ID,
		TokensBefore:       tokensBefore,
		TokensAfter:        tokensAfter,
		SummaryTokens:      inserted.TokenCount,
		MessagesSummarized: len(partition.Summarizable),
	}, nil
}

// orderedIDsAfterReplace rebuilds position order: protected and recent
// messages keep their original positions relative to each other, and the
// summary takes the position of the first message it replaced, so protected
// messages before that splice point come first and later ones follow it.
func orderedIDsAfterReplace(p Partition, summary models.ContextMessage) []string {
	msgs := make([]models.ContextMessage, 0, len(p.Protected)+1+len(p.Recent))
	msgs = append(msgs, p.Protected...)
	msgs = append(msgs, summary)
	msgs = append(msgs, p.Recent...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Position < msgs[j].Position })
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func totalTokens(messages []models.ContextMessage) int {
	return sumTokens(messages)
}

func sumTokens(messages []models.ContextMessage) int {
	var sum int
	for _, m := range messages {
		sum += m.TokenCount
	}
	return sum
}

// snapshot creates a checkpoint capturing the current message set, detecting
// content tags and generating an auto-label (spec §4.7 auto-tagging).
func (c *Compactor) snapshot(ctx context.Context, conversationID, userID string, messages []models.ContextMessage, trigger Trigger) (models.SessionCheckpoint, error) {
	tags := DetectTags(messages)
	label := GenerateLabel(messages, tags, trigger, time.Now())
	var autoTag *models.CheckpointAutoTag
	if tag, ok := primaryTag(tags); ok {
		autoTag = &tag
	}

	cp := models.SessionCheckpoint{
		ConversationID: conversationID,
		UserID:         userID,
		TokenCount:     sumTokens(messages),
		Label:          label,
		AutoTag:        autoTag,
		ExpiresAt:      time.Now().AddDate(0, 0, c.cfg.CheckpointExpirationDays),
		Payload: models.CheckpointPayload{
			Messages: messages,
			Tags:     tags,
		},
	}
	return c.contexts.CreateCheckpoint(ctx, cp)
}

// CreateManualCheckpoint snapshots the current state on explicit user
// request, outside the compaction pipeline.
func (c *Compactor) CreateManualCheckpoint(ctx context.Context, conversationID, userID string) (models.SessionCheckpoint, error) {
	messages, err := c.contexts.ListMessages(ctx, conversationID)
	if err != nil {
		return models.SessionCheckpoint{}, fmt.Errorf("compactor: list messages: %w", err)
	}
	cp, err := c.snapshot(ctx, conversationID, userID, messages, TriggerManual)
	if err != nil {
		return models.SessionCheckpoint{}, err
	}
	if err := c.enforceCheckpointCap(ctx, conversationID); err != nil {
		c.logger.Warn("compactor: failed to enforce checkpoint cap", map[string]interface{}{"error": err.Error()})
	}
	return cp, nil
}

// enforceCheckpointCap trims the oldest checkpoints once a conversation
// exceeds MaxCheckpointsPerSession (spec §4.7 checkpoint lifecycle).
func (c *Compactor) enforceCheckpointCap(ctx context.Context, conversationID string) error {
	count, err := c.contexts.CountCheckpoints(ctx, conversationID)
	if err != nil {
		return err
	}
	if count <= c.cfg.MaxCheckpointsPerSession {
		return nil
	}
	return c.contexts.DeleteOldestCheckpoints(ctx, conversationID, c.cfg.MaxCheckpointsPerSession)
}

// Restore replays a checkpoint's messages back into the live context. It
// takes the same distributed lock Compact uses so a concurrent compaction or
// a second concurrent restore on the same conversation cannot interleave
// with the delete-then-reinsert below (spec §9 OQ5).
func (c *Compactor) Restore(ctx context.Context, checkpointID string) (models.SessionCheckpoint, error) {
	cp, err := c.contexts.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return models.SessionCheckpoint{}, err
	}

	lock := NewLock(c.redis, cp.ConversationID, c.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return models.SessionCheckpoint{}, err
	}
	if !acquired {
		return models.SessionCheckpoint{}, ErrAlreadyCompacting
	}
	defer lock.Release(ctx)

	ctxState, err := c.contexts.GetOrCreateContext(ctx, cp.ConversationID, cp.UserID, cp.TokenCount, 80)
	if err != nil {
		return models.SessionCheckpoint{}, fmt.Errorf("compactor: load context: %w", err)
	}

	if _, err := c.contexts.RestoreMessages(ctx, ctxState.ID, cp.Payload.Messages); err != nil {
		return models.SessionCheckpoint{}, fmt.Errorf("compactor: restore messages: %w", err)
	}
	if err := c.contexts.UpdateTotalTokens(ctx, ctxState.ID, cp.TokenCount); err != nil {
		return models.SessionCheckpoint{}, fmt.Errorf("compactor: update total tokens: %w", err)
	}

	c.metrics.IncrementCounter("compactor.restores", 1)
	return cp, nil
}

// CheckRecovery scans for an unresolved abnormal-close checkpoint for
// conversationID, used on session start to offer crash recovery (spec §4.7,
// grounded on checkpoint_service.py's crash-recovery scan).
func (c *Compactor) CheckRecovery(ctx context.Context, conversationID string) (*models.SessionCheckpoint, error) {
	return c.contexts.FindAbnormalClose(ctx, conversationID)
}

// MarkAbnormalClose snapshots the current state flagged is_abnormal_close,
// called when a session ends without a clean shutdown signal.
func (c *Compactor) MarkAbnormalClose(ctx context.Context, conversationID, userID string) (models.SessionCheckpoint, error) {
	messages, err := c.contexts.ListMessages(ctx, conversationID)
	if err != nil {
		return models.SessionCheckpoint{}, fmt.Errorf("compactor: list messages: %w", err)
	}
	tags := DetectTags(messages)
	var autoTag *models.CheckpointAutoTag
	if tag, ok := primaryTag(tags); ok {
		autoTag = &tag
	}
	cp := models.SessionCheckpoint{
		ID:              uuid.New().String(),
		ConversationID:  conversationID,
		UserID:          userID,
		TokenCount:      sumTokens(messages),
		Label:           GenerateLabel(messages, tags, TriggerImportantContext, time.Now()),
		AutoTag:         autoTag,
		IsAbnormalClose: true,
		ExpiresAt:       time.Now().AddDate(0, 0, c.cfg.CheckpointExpirationDays),
		Payload: models.CheckpointPayload{
			Messages: messages,
			Tags:     tags,
		},
	}
	return c.contexts.CreateCheckpoint(ctx, cp)
}
