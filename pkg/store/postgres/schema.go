// Package postgres provides a PostgreSQL-backed [store.Store].
//
// Structured records are stored as JSONB, transcripts carry a GIN full-text
// index, and session embeddings live in a pgvector column with an HNSW index
// for similar-session queries. The pgvector extension must be available in
// the target database; [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const ddlPatients = `
CREATE TABLE IF NOT EXISTS patients (
    id             TEXT         PRIMARY KEY,
    owner_id       TEXT         NOT NULL,
    name           TEXT         NOT NULL,
    date_of_birth  TEXT         NOT NULL DEFAULT '',
    gender         TEXT         NOT NULL DEFAULT '',
    notes          TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_patients_owner_name
    ON patients (owner_id, name);
`

// ddlSessions returns the sessions DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlSessions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT         PRIMARY KEY,
    owner_id         TEXT         NOT NULL,
    patient_id       TEXT         NOT NULL REFERENCES patients (id) ON DELETE CASCADE,
    transcript       TEXT         NOT NULL,
    structured_data  JSONB        NOT NULL DEFAULT '{}',
    embedding        vector(%d),
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_patient_created
    ON sessions (patient_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_sessions_owner_created
    ON sessions (owner_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_sessions_fts
    ON sessions USING GIN (to_tsvector('english', transcript));

CREATE INDEX IF NOT EXISTS idx_sessions_embedding
    ON sessions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes and extensions.
// It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing it after
// the first migration requires a manual schema change.
func Migrate(ctx context.Context, conn *pgx.Conn, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlPatients, ddlSessions(embeddingDimensions)} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
