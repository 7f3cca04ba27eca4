package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/medscribe/pkg/provider/llm"
)

// GuardedLLM implements [llm.Provider] by passing every Complete call through
// a [CircuitBreaker]. CountTokens and Capabilities are forwarded unguarded.
type GuardedLLM struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedLLM)(nil)

// NewGuardedLLM wraps inner. When cfg.IsFailure is nil, [UpstreamFailure] is
// used so that only server-side trouble counts against the endpoint.
func NewGuardedLLM(inner llm.Provider, cfg CircuitBreakerConfig) *GuardedLLM {
	if cfg.IsFailure == nil {
		cfg.IsFailure = UpstreamFailure
	}
	return &GuardedLLM{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the underlying breaker for health reporting.
func (g *GuardedLLM) Breaker() *CircuitBreaker { return g.breaker }

// Complete implements llm.Provider. While the breaker is open it returns an
// error wrapping [ErrCircuitOpen] without contacting the endpoint.
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("resilience: %s: %w", g.breaker.Name(), err)
	}
	return resp, err
}

// CountTokens implements llm.Provider.
func (g *GuardedLLM) CountTokens(messages []llm.Message) (int, error) {
	return g.inner.CountTokens(messages)
}

// Capabilities implements llm.Provider.
func (g *GuardedLLM) Capabilities() llm.ModelCapabilities {
	return g.inner.Capabilities()
}

// UpstreamFailure reports whether err indicates the completion endpoint
// itself is unhealthy: a 5xx or 429 response, or a transport error. Client
// errors such as 400 and 401 and caller cancellation do not count.
func UpstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
