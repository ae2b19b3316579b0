package embedding

import (
	"context"
	"fmt"
)

// Provider is implemented by every embedding backend variant. It is the
// only interface the engine depends on — the wire protocol of any given
// service never leaks past this boundary. Implementations must be safe
// for concurrent use: the engine shares one Provider across its shard
// workers.
type Provider interface {
	// EmbedBatch embeds a slice of texts in one call, returning one vector
	// per input text in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	// ModelID returns the cache key the engine stamps onto every embedded
	// row: "{provider}_{model}".
	ModelID() string
}

// ProviderType names one of the pluggable embedding backend variants.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderVoyage ProviderType = "voyage"
	ProviderGemini ProviderType = "gemini"
	ProviderMock   ProviderType = "mock"
)

// ProviderConfig carries everything any provider variant might need to
// construct itself; unused fields are simply ignored by a given variant's
// constructor; each variant's constructor is called from the single
// factory switch in NewProvider.
type ProviderConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Host       string
	Dimensions int
	BatchSize  int
}

// NewProvider constructs the Provider variant named by t.
func NewProvider(t ProviderType, cfg ProviderConfig) (Provider, error) {
	switch t {
	case ProviderOllama:
		return NewOllamaProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderVoyage:
		return NewVoyageProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	case ProviderMock:
		return NewMockProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, t)
	}
}
