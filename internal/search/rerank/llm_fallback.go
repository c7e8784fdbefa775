package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// LLMReranker asks a completion model to score relevance directly, returning
// a JSON array of scores, used when the cross-encoder is unavailable
// (spec §4.5).
type LLMReranker struct {
	completer embedding.Completer
	logger    observability.Logger
}

func NewLLMReranker(completer embedding.Completer, logger observability.Logger) *LLMReranker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &LLMReranker{completer: completer, logger: logger}
}

const llmRerankSystemPrompt = `You score how relevant each numbered document is to the query on a scale from 0.0 to 1.0.
Respond with nothing but a JSON array of numbers, one per document, in the same order as given.`

// Rerank scores every result with a single completion call and resorts by
// score descending.
func (l *LLMReranker) Rerank(ctx context.Context, query string, results []models.SearchResult, opts Options) ([]models.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncate(r.Content, 500))
	}

	response, err := l.completer.Complete(ctx, llmRerankSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("llm rerank completion: %w", err)
	}

	scores, err := parseScoreArray(response, len(results))
	if err != nil {
		return nil, err
	}

	reranked := make([]models.SearchResult, len(results))
	copy(reranked, results)
	for i := range reranked {
		original := reranked[i].Score
		reranked[i].Score = scores[i]
		if reranked[i].Metadata == nil {
			reranked[i].Metadata = make(map[string]interface{})
		}
		reranked[i].Metadata["original_score"] = original
		reranked[i].Metadata["rerank_model"] = "llm_fallback"
		reranked[i].Metadata["reranked"] = true
	}

	sortByScoreDesc(reranked)
	if opts.TopK > 0 && opts.TopK < len(reranked) {
		reranked = reranked[:opts.TopK]
	}
	return reranked, nil
}

// parseScoreArray extracts a JSON array of floats from the model's raw text,
// tolerating surrounding prose by locating the outermost brackets.
func parseScoreArray(raw string, expected int) ([]float64, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("llm rerank: no JSON array found in response")
	}
	var scores []float64
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("llm rerank: parse score array: %w", err)
	}
	if len(scores) != expected {
		return nil, fmt.Errorf("llm rerank: expected %d scores, got %d", expected, len(scores))
	}
	return scores, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sortByScoreDesc(results []models.SearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func (l *LLMReranker) Name() string { return "llm_fallback" }
func (l *LLMReranker) Close() error { return nil }
