package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/models"
)

const summarizationSystemPrompt = `You summarize a portion of an ongoing conversation so it can be dropped
from the active context window while preserving the information a later
turn would need: decisions made, facts established, open threads, and
anything referenced again later. Write a dense prose summary, not a
transcript. Do not address the user directly.`

// Summarizer condenses a message range into one summary message via a
// completion call, independently protected by its own retry/circuit-breaker
// pair (spec §4.7, grounded on context_manager_service.py's use of an LLM
// client for compaction).
type Summarizer struct {
	completer embedding.Completer
	breaker   *gobreaker.CircuitBreaker
}

func NewSummarizer(completer embedding.Completer) *Summarizer {
	settings := gobreaker.Settings{
		Name:        "context_compaction_llm",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Summarizer{completer: completer, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Summarize returns prose summarizing the given messages in order.
func (s *Summarizer) Summarize(ctx context.Context, messages []models.ContextMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	boCfg := backoff.NewExponentialBackOff()
	boCfg.InitialInterval = 200 * time.Millisecond
	boCfg.MaxInterval = 2 * time.Second
	boCfg.MaxElapsedTime = 20 * time.Second
	boCfg.Multiplier = 2.0
	bo := backoff.WithContext(boCfg, ctx)

	var summary string
	operation := func() error {
		result, err := s.breaker.Execute(func() (interface{}, error) {
			return s.completer.Complete(ctx, summarizationSystemPrompt, b.String())
		})
		if err != nil {
			return err
		}
		summary = result.(string)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, 3)); err != nil {
		return "", fmt.Errorf("compaction summarization failed: %w", err)
	}
	return summary, nil
}
