package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider calls a cross-encoder scoring endpoint over HTTP, the shape
// Cohere-style rerank APIs and self-hosted cross-encoder servers share.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

type rerankRequestBody struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
}

type rerankResponseBody struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (p *HTTPProvider) Rerank(ctx context.Context, query string, documents []string, model string) ([]ScoredDocument, error) {
	payload, err := json.Marshal(rerankRequestBody{Query: query, Documents: documents, Model: model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint returned status %d", resp.StatusCode)
	}

	var body rerankResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]ScoredDocument, len(body.Results))
	for i, r := range body.Results {
		scores[i] = ScoredDocument{Index: r.Index, Score: r.Score}
	}
	return scores, nil
}
