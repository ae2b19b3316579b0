package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaHost and DefaultOllamaModel point at a local daemon and
// its standard embedding model.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaProvider embeds text through a local (or self-hosted) Ollama
// server. Ollama's /api/embed endpoint accepts a batch of inputs natively
// in one call.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider constructs an OllamaProvider pointed at cfg.Host
// (defaulting to the local daemon).
func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}

	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("embedding: invalid ollama host %q: %w", host, err)
	}

	return &OllamaProvider{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

// ModelID implements Provider.
func (p *OllamaProvider) ModelID() string {
	return "ollama_" + p.model
}

// EmbedBatch implements Provider.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama Embed: %w", err)
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		vec := make([]float64, len(v))
		for j, f := range v {
			vec[j] = float64(f)
		}
		out[i] = vec
	}
	return out, nil
}
