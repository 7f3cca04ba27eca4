// Package ollama provides an embeddings provider backed by a local Ollama
// server, so that transcript vectors can be computed without sending
// patient text to a hosted API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/medscribe/pkg/provider/embeddings"
)

// DefaultBaseURL is the address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using Ollama's /api/embed endpoint.
//
// When the vector size is neither configured nor known for the model, it is
// probed once on the first Dimensions call and cached. Provider is safe for
// concurrent use.
type Provider struct {
	client *api.Client
	model  string

	mu         sync.Mutex
	dimensions int
	probed     bool
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option configures a Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions fixes the vector length and skips the probe request.
func WithDimensions(n int) Option {
	return func(c *config) { c.dimensions = n }
}

// New returns a Provider for model served at baseURL. An empty baseURL
// means [DefaultBaseURL].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ollama embeddings: base url %q must include scheme and host", baseURL)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("ollama embeddings: dimensions must be positive, got %d", cfg.dimensions)
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}
	return &Provider{
		client:     api.NewClient(u, &http.Client{Timeout: cfg.timeout}),
		model:      model,
		dimensions: dims,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("ollama embeddings: embed: empty response")
	}
	return resp.Embeddings[0], nil
}

// Dimensions implements embeddings.Provider. A failed probe returns 0 and
// is retried on the next call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimensions != 0 || p.probed {
		return p.dimensions
	}
	vec, err := p.Embed(context.Background(), "probe")
	if err != nil {
		return 0
	}
	p.dimensions = len(vec)
	p.probed = true
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

// knownDimensions returns the output size of common Ollama embedding models,
// or 0 when the model is not recognised.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
