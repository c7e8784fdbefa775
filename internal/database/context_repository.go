package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/ragcore/internal/models"
)

// ContextRepository is the sqlx gateway to conversation_contexts,
// context_messages, and session_checkpoints (spec §6 storage schema).
type ContextRepository struct {
	db *DB
}

func NewContextRepository(db *DB) *ContextRepository {
	return &ContextRepository{db: db}
}

// GetOrCreateContext fetches a conversation's context row, creating one with
// the given defaults if absent.
func (r *ContextRepository) GetOrCreateContext(ctx context.Context, conversationID, userID string, maxTokens, thresholdPercent int) (models.ConversationContext, error) {
	var row models.ConversationContext
	err := sqlx.GetContext(ctx, r.db.Conn(), &row,
		`SELECT id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent, last_compaction_at
		 FROM conversation_contexts WHERE conversation_id = $1`, conversationID)
	if err == nil {
		return row, nil
	}

	insertErr := sqlx.GetContext(ctx, r.db.Conn(), &row,
		`INSERT INTO conversation_contexts (id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent)
		 VALUES ($1, $2, $3, 0, $4, $5)
		 ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		 RETURNING id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent, last_compaction_at`,
		uuid.New().String(), conversationID, userID, maxTokens, thresholdPercent)
	if insertErr != nil {
		return models.ConversationContext{}, TranslateError(insertErr, "conversation_contexts")
	}
	return row, nil
}

// UpdateTotalTokens sets the context's running token count.
func (r *ContextRepository) UpdateTotalTokens(ctx context.Context, contextID string, totalTokens int) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`UPDATE conversation_contexts SET total_tokens = $1 WHERE id = $2`, totalTokens, contextID)
	return TranslateError(err, "conversation_contexts")
}

// SetLastCompactionAt records when the most recent compaction completed.
func (r *ContextRepository) SetLastCompactionAt(ctx context.Context, contextID string, at time.Time) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`UPDATE conversation_contexts SET last_compaction_at = $1 WHERE id = $2`, at, contextID)
	return TranslateError(err, "conversation_contexts")
}

// NextPosition returns max(position)+1 for a context, or 0 if it has no
// messages yet.
func (r *ContextRepository) NextPosition(ctx context.Context, contextID string) (int, error) {
	var maxPos *int
	err := sqlx.GetContext(ctx, r.db.Conn(), &maxPos,
		`SELECT MAX(position) FROM context_messages WHERE context_id = $1`, contextID)
	if err != nil {
		return 0, TranslateError(err, "context_messages")
	}
	if maxPos == nil {
		return 0, nil
	}
	return *maxPos + 1, nil
}

// InsertMessage appends a message at the given position.
func (r *ContextRepository) InsertMessage(ctx context.Context, msg models.ContextMessage) (models.ContextMessage, error) {
	var out models.ContextMessage
	err := sqlx.GetContext(ctx, r.db.Conn(), &out,
		`INSERT INTO context_messages (id, context_id, role, content, token_count, is_protected, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, context_id, role, content, token_count, is_protected, position, created_at`,
		uuid.New().String(), msg.ContextID, msg.Role, msg.Content, msg.TokenCount, msg.IsProtected, msg.Position)
	if err != nil {
		return models.ContextMessage{}, TranslateError(err, "context_messages")
	}
	return out, nil
}

// ListMessages returns all messages for a context ordered by position.
func (r *ContextRepository) ListMessages(ctx context.Context, contextID string) ([]models.ContextMessage, error) {
	var rows []models.ContextMessage
	err := sqlx.SelectContext(ctx, r.db.Conn(), &rows,
		`SELECT id, context_id, role, content, token_count, is_protected, position, created_at
		 FROM context_messages WHERE context_id = $1 ORDER BY position ASC`, contextID)
	if err != nil {
		return nil, TranslateError(err, "context_messages")
	}
	return rows, nil
}

// SetProtected toggles a message's protection flag.
func (r *ContextRepository) SetProtected(ctx context.Context, messageID string, protected bool) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`UPDATE context_messages SET is_protected = $1 WHERE id = $2`, protected, messageID)
	return TranslateError(err, "context_messages")
}

// ReplaceMessages atomically inserts a summary message and deletes the
// summarized originals within a single transaction (spec §4.7 compaction
// replace step).
func (r *ContextRepository) ReplaceMessages(ctx context.Context, contextID string, summary models.ContextMessage, deleteIDs []string) (models.ContextMessage, error) {
	var out models.ContextMessage
	err := r.db.Transaction(ctx, func(tx *DB) error {
		inserted, err := NewContextRepository(tx).InsertMessage(ctx, summary)
		if err != nil {
			return err
		}
		out = inserted
		if len(deleteIDs) == 0 {
			return nil
		}
		query, args, err := sqlx.In(`DELETE FROM context_messages WHERE id IN (?)`, deleteIDs)
		if err != nil {
			return err
		}
		query = tx.conn.Rebind(query)
		_, err = tx.Conn().ExecContext(ctx, query, args...)
		return TranslateError(err, "context_messages")
	})
	return out, err
}

// RenumberPositions rewrites positions to a contiguous 0..N-1 sequence in
// the given order (spec §3 position-contiguity invariant, §8 S5).
func (r *ContextRepository) RenumberPositions(ctx context.Context, contextID string, orderedIDs []string) error {
	return r.db.Transaction(ctx, func(tx *DB) error {
		for i, id := range orderedIDs {
			if _, err := tx.Conn().ExecContext(ctx,
				`UPDATE context_messages SET position = $1 WHERE id = $2`, i, id); err != nil {
				return TranslateError(err, "context_messages")
			}
		}
		return nil
	})
}

// RestoreMessages replaces every message under contextID with the given set
// inside a single transaction (checkpoint restore's delete-then-reinsert,
// spec §9 OQ5 — callers must hold the conversation's compaction lock around
// this call since it is not itself safe against a concurrent restore).
func (r *ContextRepository) RestoreMessages(ctx context.Context, contextID string, messages []models.ContextMessage) ([]models.ContextMessage, error) {
	var restored []models.ContextMessage
	err := r.db.Transaction(ctx, func(tx *DB) error {
		if _, err := tx.Conn().ExecContext(ctx, `DELETE FROM context_messages WHERE context_id = $1`, contextID); err != nil {
			return TranslateError(err, "context_messages")
		}
		txRepo := NewContextRepository(tx)
		for _, m := range messages {
			m.ContextID = contextID
			inserted, err := txRepo.InsertMessage(ctx, m)
			if err != nil {
				return err
			}
			restored = append(restored, inserted)
		}
		return nil
	})
	return restored, err
}

// CreateCheckpoint inserts a new session checkpoint.
func (r *ContextRepository) CreateCheckpoint(ctx context.Context, cp models.SessionCheckpoint) (models.SessionCheckpoint, error) {
	payload, err := json.Marshal(cp.Payload)
	if err != nil {
		return models.SessionCheckpoint{}, err
	}

	var out struct {
		ID              string    `db:"id"`
		ConversationID  string    `db:"conversation_id"`
		UserID          string    `db:"user_id"`
		TokenCount      int       `db:"token_count"`
		Label           string    `db:"label"`
		AutoTag         *string   `db:"auto_tag"`
		IsAbnormalClose bool      `db:"is_abnormal_close"`
		CreatedAt       time.Time `db:"created_at"`
		ExpiresAt       time.Time `db:"expires_at"`
	}
	err = sqlx.GetContext(ctx, r.db.Conn(), &out,
		`INSERT INTO session_checkpoints (id, conversation_id, user_id, checkpoint_data, token_count, label, auto_tag, is_abnormal_close, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, conversation_id, user_id, token_count, label, auto_tag, is_abnormal_close, created_at, expires_at`,
		uuid.New().String(), cp.ConversationID, cp.UserID, payload, cp.TokenCount, cp.Label, tagPtr(cp.AutoTag), cp.IsAbnormalClose, cp.ExpiresAt)
	if err != nil {
		return models.SessionCheckpoint{}, TranslateError(err, "session_checkpoints")
	}

	result := cp
	result.ID = out.ID
	result.CreatedAt = out.CreatedAt
	result.ExpiresAt = out.ExpiresAt
	return result, nil
}

func tagPtr(t *models.CheckpointAutoTag) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

type checkpointRow struct {
	ID              string          `db:"id"`
	ConversationID  string          `db:"conversation_id"`
	UserID          string          `db:"user_id"`
	CheckpointData  json.RawMessage `db:"checkpoint_data"`
	TokenCount      int             `db:"token_count"`
	Label           string          `db:"label"`
	AutoTag         *string         `db:"auto_tag"`
	IsAbnormalClose bool            `db:"is_abnormal_close"`
	CreatedAt       time.Time       `db:"created_at"`
	ExpiresAt       time.Time       `db:"expires_at"`
}

func (row checkpointRow) toCheckpoint() models.SessionCheckpoint {
	cp := models.SessionCheckpoint{
		ID:              row.ID,
		ConversationID:  row.ConversationID,
		UserID:          row.UserID,
		TokenCount:      row.TokenCount,
		Label:           row.Label,
		IsAbnormalClose: row.IsAbnormalClose,
		CreatedAt:       row.CreatedAt,
		ExpiresAt:       row.ExpiresAt,
	}
	if row.AutoTag != nil {
		tag := models.CheckpointAutoTag(*row.AutoTag)
		cp.AutoTag = &tag
	}
	var payload models.CheckpointPayload
	if err := json.Unmarshal(row.CheckpointData, &payload); err == nil {
		cp.Payload = payload
	}
	return cp
}

// ListCheckpoints returns non-expired checkpoints for a conversation, newest
// first, paginated.
func (r *ContextRepository) ListCheckpoints(ctx context.Context, conversationID string, limit, offset int) ([]models.SessionCheckpoint, error) {
	var rows []checkpointRow
	err := sqlx.SelectContext(ctx, r.db.Conn(), &rows,
		`SELECT id, conversation_id, user_id, checkpoint_data, token_count, label, auto_tag, is_abnormal_close, created_at, expires_at
		 FROM session_checkpoints
		 WHERE conversation_id = $1 AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, TranslateError(err, "session_checkpoints")
	}
	out := make([]models.SessionCheckpoint, len(rows))
	for i, row := range rows {
		out[i] = row.toCheckpoint()
	}
	return out, nil
}

// GetCheckpoint fetches a single checkpoint by ID.
func (r *ContextRepository) GetCheckpoint(ctx context.Context, checkpointID string) (models.SessionCheckpoint, error) {
	var row checkpointRow
	err := sqlx.GetContext(ctx, r.db.Conn(), &row,
		`SELECT id, conversation_id, user_id, checkpoint_data, token_count, label, auto_tag, is_abnormal_close, created_at, expires_at
		 FROM session_checkpoints WHERE id = $1`, checkpointID)
	if err != nil {
		return models.SessionCheckpoint{}, TranslateError(err, "session_checkpoints")
	}
	return row.toCheckpoint(), nil
}

// FindAbnormalClose returns the most recent non-expired checkpoint flagged
// is_abnormal_close, used by the crash-recovery scan (spec §4.7).
func (r *ContextRepository) FindAbnormalClose(ctx context.Context, conversationID string) (*models.SessionCheckpoint, error) {
	var row checkpointRow
	err := sqlx.GetContext(ctx, r.db.Conn(), &row,
		`SELECT id, conversation_id, user_id, checkpoint_data, token_count, label, auto_tag, is_abnormal_close, created_at, expires_at
		 FROM session_checkpoints
		 WHERE conversation_id = $1 AND is_abnormal_close AND expires_at > now()
		 ORDER BY created_at DESC LIMIT 1`, conversationID)
	if err != nil {
		translated := TranslateError(err, "session_checkpoints")
		if translated == ErrNotFound {
			return nil, nil
		}
		return nil, translated
	}
	cp := row.toCheckpoint()
	return &cp, nil
}

// CountCheckpoints returns the number of non-expired checkpoints for a
// conversation, used to enforce MaxCheckpointsPerSession.
func (r *ContextRepository) CountCheckpoints(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.db.Conn(), &count,
		`SELECT COUNT(*) FROM session_checkpoints WHERE conversation_id = $1 AND expires_at > now()`, conversationID)
	return count, TranslateError(err, "session_checkpoints")
}

// DeleteOldestCheckpoints removes the oldest checkpoints beyond the keep
// limit for a conversation (spec §4.7 checkpoint lifecycle, cap 50).
func (r *ContextRepository) DeleteOldestCheckpoints(ctx context.Context, conversationID string, keep int) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`DELETE FROM session_checkpoints
		 WHERE id IN (
		     SELECT id FROM session_checkpoints
		     WHERE conversation_id = $1
		     ORDER BY created_at DESC
		     OFFSET $2
		 )`, conversationID, keep)
	return TranslateError(err, "session_checkpoints")
}
