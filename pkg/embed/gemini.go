package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Gemini defaults.
const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/text-embedding-004:embedContent"
	DefaultGeminiModel    = "models/text-embedding-004"
)

// Gemini calls the Generative Language embedContent endpoint.
type Gemini struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewGemini creates a Gemini embedder.
func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Gemini{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(base)},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
}

type geminiResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var body geminiRequest
	body.Model = g.model
	body.Content.Parts = []geminiPart{{Text: text}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: encode: %w", err)
	}

	u := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gemini embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gemini embed: decode: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return toFloat32(result.Embedding.Values), nil
}
