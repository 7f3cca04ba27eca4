package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/medscribe/pkg/store"
)

var _ store.Store = (*Store)(nil)

const patientColumns = `id, owner_id, name, date_of_birth, gender, notes, created_at, updated_at`

const sessionColumns = `id, owner_id, patient_id, transcript, structured_data, created_at`

// Store is the PostgreSQL-backed [store.Store]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore runs [Migrate] over a one-off connection, then opens a connection
// pool that registers pgvector types on every connection.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	// The vector extension has to exist before pgvector types can be
	// registered, so migration runs on a plain connection first.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	err = Migrate(ctx, conn, embeddingDimensions)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements [store.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanPatient(row pgx.Row) (store.Patient, error) {
	var p store.Patient
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.DateOfBirth, &p.Gender, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanSession(row pgx.Row) (store.Session, error) {
	var (
		sess store.Session
		data []byte
	)
	if err := row.Scan(&sess.ID, &sess.OwnerID, &sess.PatientID, &sess.Transcript, &data, &sess.CreatedAt); err != nil {
		return store.Session{}, err
	}
	if err := json.Unmarshal(data, &sess.Record); err != nil {
		return store.Session{}, fmt.Errorf("decode structured data: %w", err)
	}
	return sess, nil
}

func collectSessions(rows pgx.Rows) ([]store.Session, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Session, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Session{}
	}
	return out, nil
}

// checkOwner returns ErrNotFound or ErrNotOwner for the row id in table.
func (s *Store) checkOwner(ctx context.Context, table, ownerID, id string) error {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM `+table+` WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres store: lookup %s: %w", table, err)
	}
	if owner != ownerID {
		return store.ErrNotOwner
	}
	return nil
}

// CreatePatient implements [store.Patients].
func (s *Store) CreatePatient(ctx context.Context, p store.Patient) (store.Patient, error) {
	if err := store.ValidatePatient(p); err != nil {
		return store.Patient{}, err
	}
	const q = `
		INSERT INTO patients (id, owner_id, name, date_of_birth, gender, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + patientColumns

	created, err := scanPatient(s.pool.QueryRow(ctx, q,
		store.NewID(), p.OwnerID, strings.TrimSpace(p.Name), p.DateOfBirth, p.Gender, p.Notes))
	if err != nil {
		return store.Patient{}, fmt.Errorf("postgres store: create patient: %w", err)
	}
	return created, nil
}

// GetPatient implements [store.Patients].
func (s *Store) GetPatient(ctx context.Context, ownerID, id string) (store.Patient, error) {
	p, err := scanPatient(s.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Patient{}, store.ErrNotFound
	}
	if err != nil {
		return store.Patient{}, fmt.Errorf("postgres store: get patient: %w", err)
	}
	if p.OwnerID != ownerID {
		return store.Patient{}, store.ErrNotOwner
	}
	return p, nil
}

// ListPatients implements [store.Patients].
func (s *Store) ListPatients(ctx context.Context, ownerID string) ([]store.Patient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE owner_id = $1 ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list patients: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Patient, error) {
		return scanPatient(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan patients: %w", err)
	}
	if out == nil {
		out = []store.Patient{}
	}
	return out, nil
}

// UpdatePatient implements [store.Patients].
func (s *Store) UpdatePatient(ctx context.Context, p store.Patient) (store.Patient, error) {
	if err := store.ValidatePatient(p); err != nil {
		return store.Patient{}, err
	}
	if err := s.checkOwner(ctx, "patients", p.OwnerID, p.ID); err != nil {
		return store.Patient{}, err
	}
	const q = `
		UPDATE patients
		SET    name = $2, date_of_birth = $3, gender = $4, notes = $5, updated_at = now()
		WHERE  id = $1
		RETURNING ` + patientColumns

	updated, err := scanPatient(s.pool.QueryRow(ctx, q,
		p.ID, strings.TrimSpace(p.Name), p.DateOfBirth, p.Gender, p.Notes))
	if err != nil {
		return store.Patient{}, fmt.Errorf("postgres store: update patient: %w", err)
	}
	return updated, nil
}

// DeletePatient implements [store.Patients]. Sessions are removed by the
// foreign key cascade.
func (s *Store) DeletePatient(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, "patients", ownerID, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete patient: %w", err)
	}
	return nil
}

// SaveSession implements [store.Sessions].
func (s *Store) SaveSession(ctx context.Context, ns store.NewSession) (string, error) {
	if err := store.ValidateSession(ns); err != nil {
		return "", err
	}
	if err := s.checkOwner(ctx, "patients", ns.OwnerID, ns.PatientID); err != nil {
		return "", fmt.Errorf("postgres store: save session: patient %s: %w", ns.PatientID, err)
	}

	data, err := json.Marshal(ns.Record)
	if err != nil {
		return "", fmt.Errorf("postgres store: encode structured data: %w", err)
	}
	var emb any
	if len(ns.Embedding) > 0 {
		emb = pgvector.NewVector(ns.Embedding)
	}

	const q = `
		INSERT INTO sessions (id, owner_id, patient_id, transcript, structured_data, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	id := store.NewID()
	if _, err := s.pool.Exec(ctx, q, id, ns.OwnerID, ns.PatientID, ns.Transcript, data, emb); err != nil {
		return "", fmt.Errorf("postgres store: save session: %w", err)
	}
	return id, nil
}

// GetSession implements [store.Sessions].
func (s *Store) GetSession(ctx context.Context, ownerID, id string) (store.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: get session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return store.Session{}, store.ErrNotOwner
	}
	return sess, nil
}

// ListSessions implements [store.Sessions].
func (s *Store) ListSessions(ctx context.Context, ownerID, patientID string) ([]store.Session, error) {
	if err := s.checkOwner(ctx, "patients", ownerID, patientID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	out, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	return out, nil
}

// DeleteSession implements [store.Sessions].
func (s *Store) DeleteSession(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, "sessions", ownerID, id); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete session: %w", err)
	}
	return nil
}

// SearchSessions implements [store.Sessions] using PostgreSQL full-text
// search with the English dictionary.
func (s *Store) SearchSessions(ctx context.Context, ownerID, query string, limit int) ([]store.Session, error) {
	if strings.TrimSpace(query) == "" {
		return []store.Session{}, nil
	}
	const q = `
		SELECT ` + sessionColumns + `
		FROM   sessions
		WHERE  owner_id = $1
		  AND  to_tsvector('english', transcript) @@ plainto_tsquery('english', $2)
		ORDER  BY created_at DESC, id
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, ownerID, query, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: search sessions: %w", err)
	}
	out, err := collectSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	return out, nil
}

// SimilarSessions implements [store.Sessions]. Results are ordered by
// ascending cosine distance.
func (s *Store) SimilarSessions(ctx context.Context, ownerID string, embedding []float32, limit int) ([]store.SessionMatch, error) {
	const q = `
		SELECT ` + sessionColumns + `, embedding <=> $2 AS distance
		FROM   sessions
		WHERE  owner_id = $1 AND embedding IS NOT NULL
		ORDER  BY distance, id
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, ownerID, pgvector.NewVector(embedding), store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SessionMatch, error) {
		var (
			m    store.SessionMatch
			data []byte
		)
		if err := row.Scan(&m.ID, &m.OwnerID, &m.PatientID, &m.Transcript, &data, &m.CreatedAt, &m.Distance); err != nil {
			return store.SessionMatch{}, err
		}
		if err := json.Unmarshal(data, &m.Record); err != nil {
			return store.SessionMatch{}, fmt.Errorf("decode structured data: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan matches: %w", err)
	}
	if out == nil {
		out = []store.SessionMatch{}
	}
	return out, nil
}
