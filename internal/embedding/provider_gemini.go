package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel and DefaultGeminiDimensions select
// gemini-embedding-001 truncated via Matryoshka to 768 dimensions.
const (
	DefaultGeminiModel      = "gemini-embedding-001"
	DefaultGeminiDimensions = int32(768)
)

// GeminiProvider embeds text through Gemini's embedding API, implementing
// EmbedBatch as one EmbedContent call per
// text — the genai SDK's EmbedContent accepts a slice of *genai.Content
// but Gemini bills/limits per request rather than per batch the way
// OpenAI/Voyage do, so one call per text keeps error attribution precise.
type GeminiProvider struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGeminiProvider constructs a GeminiProvider from an API key.
func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	dims := DefaultGeminiDimensions
	if cfg.Dimensions > 0 {
		dims = int32(cfg.Dimensions)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, dims: dims}, nil
}

// ModelID implements Provider.
func (p *GeminiProvider) ModelID() string {
	return "gemini_" + p.model
}

// EmbedBatch implements Provider.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		contents := []*genai.Content{{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}}
		config := &genai.EmbedContentConfig{OutputDimensionality: &p.dims}

		resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("embedding: gemini EmbedContent: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			return nil, fmt.Errorf("embedding: gemini returned no embedding values")
		}

		values := resp.Embeddings[0].Values
		vec := make([]float64, len(values))
		for j, v := range values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
