package compactor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/ragcore/internal/models"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestSummarizer_Summarize_EmptyMessagesReturnsEmptyString(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{})
	out, err := s.Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSummarizer_Summarize_ReturnsCompletionOnSuccess(t *testing.T) {
	completer := &fakeCompleter{response: "a dense summary of the discussion"}
	s := NewSummarizer(completer)

	messages := []models.ContextMessage{
		{Role: models.RoleUser, Content: "what should we do about the bug"},
		{Role: models.RoleAssistant, Content: "let's patch the validator"},
	}
	out, err := s.Summarize(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, "a dense summary of the discussion", out)
	assert.Equal(t, 1, completer.calls)
}

func TestSummarizer_Summarize_RetriesThenFailsOnPersistentError(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("llm unavailable")}
	s := NewSummarizer(completer)

	messages := []models.ContextMessage{{Role: models.RoleUser, Content: "hello"}}
	_, err := s.Summarize(context.Background(), messages)
	require.Error(t, err)
	assert.Greater(t, completer.calls, 1, "a persistently failing completion must be retried before giving up")
}
