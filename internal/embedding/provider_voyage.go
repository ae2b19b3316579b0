package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultVoyageBaseURL and DefaultVoyageModel are the Voyage defaults.
const (
	DefaultVoyageBaseURL = "https://api.voyageai.com/v1"
	DefaultVoyageModel   = "voyage-3"
)

// VoyageProvider embeds text through the Voyage AI REST API. No Go SDK
// for Voyage exists anywhere in the reference pack or, to this module's
// knowledge, the wider ecosystem at a maturity comparable to the other
// providers (see DESIGN.md) — this is the one deliberately stdlib-only
// provider, a plain net/http client against Voyage's documented
// embeddings endpoint.
type VoyageProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewVoyageProvider constructs a VoyageProvider from an API key.
func NewVoyageProvider(cfg ProviderConfig) (*VoyageProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: voyage", ErrMissingAPIKey)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultVoyageBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultVoyageModel
	}

	return &VoyageProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
	}, nil
}

// ModelID implements Provider.
func (p *VoyageProvider) ModelID() string {
	return "voyage_" + p.model
}

type voyageRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error string `json:"detail,omitempty"`
}

// EmbedBatch implements Provider.
func (p *VoyageProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}

	body, err := json.Marshal(voyageRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal voyage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build voyage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: voyage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read voyage response: %w", err)
	}

	var parsed voyageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode voyage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = string(raw)
		}
		return nil, fmt.Errorf("embedding: voyage returned status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: voyage returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range parsed.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
