package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/medscribe/pkg/store"
)

// ErrNoEmbedder is returned by [Analyzer.SimilarSessions] when no embeddings
// provider is configured.
var ErrNoEmbedder = errors.New("analysis: similarity search needs an embeddings provider")

// ErrNoStore is returned by operations that need persistence when none is
// configured.
var ErrNoStore = errors.New("analysis: no store configured")

// SimilarSessions returns up to limit of the owner's sessions closest to
// the session with id, excluding that session itself. The reference
// session is embedded again from its stored record and transcript.
func (a *Analyzer) SimilarSessions(ctx context.Context, ownerID, id string, limit int) ([]store.SessionMatch, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	if a.embedder == nil {
		return nil, ErrNoEmbedder
	}
	sess, err := a.store.GetSession(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	text := EmbeddingText(&sess.Record, a.cleaner.Load().Clean(sess.Transcript))
	vec := a.embed(ctx, text)
	if vec == nil {
		return nil, fmt.Errorf("analysis: embed session %s failed", id)
	}

	limit = store.Limit(limit)
	matches, err := a.store.SimilarSessions(ctx, ownerID, vec, limit+1)
	if err != nil {
		return nil, err
	}
	out := make([]store.SessionMatch, 0, len(matches))
	for _, m := range matches {
		if m.ID == id {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
