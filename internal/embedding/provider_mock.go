package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// MockProvider returns deterministic pseudo-random vectors derived from a
// hash of each input text, so repeated runs over the same Gold rows embed
// identically without ever leaving the process — the default provider,
// and what every test in this module exercises.
type MockProvider struct {
	model      string
	dimensions int
	// FailOn, when set, makes EmbedBatch return an error the nth time it
	// is called (1-indexed); used by engine tests to exercise the
	// provider-failure-degrades-but-does-not-fail path. FailTimes extends
	// the failure across that many consecutive calls (unset means one),
	// so a test can exhaust the engine's whole retry budget for one
	// sub-batch.
	FailOn    int
	FailTimes int

	mu    sync.Mutex
	calls int
}

// NewMockProvider constructs a MockProvider. Dimensions defaults to 32
// when unset, small enough for tests to assert on full vectors.
func NewMockProvider(cfg ProviderConfig) *MockProvider {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 32
	}
	model := cfg.Model
	if model == "" {
		model = "mock-embed-v1"
	}
	return &MockProvider{model: model, dimensions: dims}
}

// ModelID implements Provider.
func (p *MockProvider) ModelID() string {
	return "mock_" + p.model
}

// EmbedBatch implements Provider.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyBatch
	}
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	failTimes := p.FailTimes
	if failTimes < 1 {
		failTimes = 1
	}
	if p.FailOn > 0 && call >= p.FailOn && call < p.FailOn+failTimes {
		return nil, fmt.Errorf("mock provider: simulated failure on call %d", call)
	}

	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, p.dimensions)
	}
	return out, nil
}

// deterministicVector derives a stable, low-cost float64 vector from a
// text's FNV hash; it is not a meaningful embedding, only a stand-in with
// the right shape for downstream code (chunking, dimension-uniformity
// checks, sinks) to exercise.
func deterministicVector(text string, dims int) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float64, dims)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float64(int64(seed>>11)) / (1 << 52)
	}
	return out
}
