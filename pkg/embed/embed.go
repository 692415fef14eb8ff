// Package embed turns text into vectors through a remote embedding API.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors shared by every provider.
var (
	ErrEmptyEmbedding = errors.New("embed: empty embedding")
	ErrDimensions     = errors.New("embed: unexpected embedding length")
	ErrNoAPIKey       = errors.New("embed: api key is required")
)

// Embedder computes one embedding per call. Any error means "no vector for
// this text"; callers skip the unit and try again on a later run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Endpoint   string        `yaml:"endpoint"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`

	// Transport overrides the HTTP transport; tests point it at httptest.
	Transport http.RoundTripper `yaml:"-"`
}

// New builds the configured provider wrapped in a length check.
func New(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "", ProviderGemini:
		e, err = NewGemini(cfg)
	case ProviderOpenAI:
		e, err = NewOpenAI(cfg)
	case ProviderOllama:
		e, err = NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Checked(e, cfg.Dimensions), nil
}

// Checked rejects empty vectors, and vectors whose length differs from dims
// when dims is positive.
func Checked(e Embedder, dims int) Embedder {
	return checked{next: e, dims: dims}
}

type checked struct {
	next Embedder
	dims int
}

func (c checked) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if c.dims > 0 && len(v) != c.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensions, len(v), c.dims)
	}
	return v, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
