package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/models"
)

func newMockContextRepo(t *testing.T) (*ContextRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockConn, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(mockConn, "postgres")
	db := NewFromConn(sqlxDB, nil, nil)
	return NewContextRepository(db), mock, func() { mockConn.Close() }
}

func TestContextRepository_GetOrCreateContext_ReturnsExistingRow(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "conversation_id", "user_id", "total_tokens", "max_tokens", "threshold_percent", "last_compaction_at"}).
		AddRow("ctx-1", "conv-1", "user-1", 42, 200000, 80, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent, last_compaction_at")).
		WithArgs("conv-1").
		WillReturnRows(rows)

	out, err := repo.GetOrCreateContext(context.Background(), "conv-1", "user-1", 200000, 80)
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", out.ID)
	assert.Equal(t, 42, out.TotalTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_GetOrCreateContext_InsertsWhenAbsent(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, conversation_id, user_id, total_tokens, max_tokens, threshold_percent, last_compaction_at")).
		WithArgs("conv-new").
		WillReturnError(sql.ErrNoRows)

	insertRows := sqlmock.NewRows([]string{"id", "conversation_id", "user_id", "total_tokens", "max_tokens", "threshold_percent", "last_compaction_at"}).
		AddRow("ctx-new", "conv-new", "user-1", 0, 200000, 80, nil)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO conversation_contexts")).
		WillReturnRows(insertRows)

	out, err := repo.GetOrCreateContext(context.Background(), "conv-new", "user-1", 200000, 80)
	require.NoError(t, err)
	assert.Equal(t, "ctx-new", out.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_InsertMessage_ReturnsInsertedRow(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "context_id", "role", "content", "token_count", "is_protected", "position", "created_at"}).
		AddRow("msg-1", "ctx-1", "user", "hello", 2, false, 0, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO context_messages")).WillReturnRows(rows)

	out, err := repo.InsertMessage(context.Background(), models.ContextMessage{
		ContextID: "ctx-1", Role: models.RoleUser, Content: "hello", TokenCount: 2, Position: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_RestoreMessages_DeletesThenReinsertsInTransaction(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM context_messages WHERE context_id = $1")).
		WithArgs("ctx-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	insertRows := sqlmock.NewRows([]string{"id", "context_id", "role", "content", "token_count", "is_protected", "position", "created_at"}).
		AddRow("m1", "ctx-1", "user", "hi", 1, false, 0, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO context_messages")).WillReturnRows(insertRows)
	mock.ExpectCommit()

	restored, err := repo.RestoreMessages(context.Background(), "ctx-1", []models.ContextMessage{
		{ID: "old-m1", Role: models.RoleUser, Content: "hi", TokenCount: 1, Position: 0},
	})
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "m1", restored[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_RestoreMessages_RollsBackOnDeleteFailure(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM context_messages WHERE context_id = $1")).
		WithArgs("ctx-1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.RestoreMessages(context.Background(), "ctx-1", []models.ContextMessage{{Content: "hi"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_CountCheckpoints_ReturnsScalarCount(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"count"}).AddRow(7)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM session_checkpoints")).
		WithArgs("conv-1").
		WillReturnRows(rows)

	count, err := repo.CountCheckpoints(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestContextRepository_DeleteOldestCheckpoints_ExecutesDeleteWithKeepOffset(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM session_checkpoints")).
		WithArgs("conv-1", 50).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.DeleteOldestCheckpoints(context.Background(), "conv-1", 50)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextRepository_FindAbnormalClose_ReturnsNilWithoutErrorWhenNoneFound(t *testing.T) {
	repo, mock, cleanup := newMockContextRepo(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM session_checkpoints")).
		WithArgs("conv-1").
		WillReturnError(sql.ErrNoRows)

	cp, err := repo.FindAbnormalClose(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, cp)
}
