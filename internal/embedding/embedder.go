// Package embedding wraps the external embedding/LLM provider collaborator.
// The core consumes pre-computed vectors; this package's job is only to
// produce a query-time embedding and to proxy short chat-completion calls
// used by query expansion, reranking fallback, and summarization.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Dimension is the fixed embedding width the storage schema assumes
// (spec §1 Non-goals: the core does not train embeddings, it consumes
// pre-computed 1024-dimensional vectors).
const Dimension = 1024

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer runs a short chat completion, used by query expansion, the LLM
// reranking fallback, and conversation summarization.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider bundles both capabilities behind the single Bedrock client the
// teacher's go.mod already depends on.
type Provider interface {
	Embedder
	Completer
}

// BedrockProvider implements Provider over Amazon Bedrock's runtime API.
type BedrockProvider struct {
	client          *bedrockruntime.Client
	embeddingModel  string
	completionModel string
}

func NewBedrockProvider(client *bedrockruntime.Client, embeddingModel, completionModel string) *BedrockProvider {
	if embeddingModel == "" {
		embeddingModel = "amazon.titan-embed-text-v2:0"
	}
	if completionModel == "" {
		completionModel = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	return &BedrockProvider{client: client, embeddingModel: embeddingModel, completionModel: completionModel}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a single embedding vector for text.
func (b *BedrockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.embeddingModel),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke embedding model: %w", err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if len(resp.Embedding) != Dimension {
		return nil, fmt.Errorf("embedding has unexpected dimension %d, want %d", len(resp.Embedding), Dimension)
	}
	return resp.Embedding, nil
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeResponse struct {
	Content []claudeContentBlock `json:"content"`
}

// Complete runs a short, single-turn chat completion.
func (b *BedrockProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           systemPrompt,
		Messages:         []claudeMessage{{Role: "user", Content: userPrompt}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.completionModel),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke completion model: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal completion response: %w", err)
	}
	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
