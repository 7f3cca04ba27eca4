// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to a dense float32 vector. The analysis
// service embeds each persisted session's cleaned transcript so that the
// store can rank an owner's earlier sessions by similarity.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by [Check] when a vector does not have
// the length the provider advertises.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the length reported by
// Dimensions. Vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding vector for text. The text is passed through
	// verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the length of the vectors produced by Embed.
	Dimensions() int

	// ModelID returns the backend model identifier, e.g. "text-embedding-3-small".
	ModelID() string
}

// Check embeds text with p and verifies the vector length against
// p.Dimensions().
func Check(ctx context.Context, p Provider, text string) ([]float32, error) {
	vec, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if want := p.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: %s returned %d values, want %d", ErrDimensionMismatch, p.ModelID(), len(vec), want)
	}
	return vec, nil
}
