package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel matches the embedding.model default.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider embeds text through the OpenAI Embeddings API; client
// construction follows the SDK's documented option pattern.
type OpenAIProvider struct {
	client openai.Client
	model  openai.EmbeddingModel
	name   string
}

// NewOpenAIProvider constructs an OpenAIProvider from an API key and
// optional base URL override (used for OpenAI-compatible proxies).
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  openai.EmbeddingModel(model),
		name:   model,
	}, nil
}

// ModelID implements Provider.
func (p *OpenAIProvider) ModelID() string {
	return "openai_" + p.name
}

// EmbedBatch implements Provider. OpenAI's embeddings endpoint natively
// accepts an array of inputs in one call, unlike Gemini, so the whole
// sub-batch goes out as one request.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai Embeddings.New: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: openai returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
