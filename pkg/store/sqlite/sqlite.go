// Package sqlite provides a [store.Store] backed by an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver, so no cgo toolchain
// is needed.
//
// Embeddings are stored as JSON arrays and similarity is computed in
// process, which is adequate for single-clinic data volumes.
package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/medscribe/pkg/store"
)

var _ store.Store = (*Store)(nil)

const createPatientsTableSQL = `
CREATE TABLE IF NOT EXISTS patients (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	date_of_birth TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at_utc TEXT NOT NULL,
	updated_at_utc TEXT NOT NULL
)`

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
	transcript TEXT NOT NULL,
	structured_data TEXT NOT NULL,
	embedding TEXT,
	created_at_utc TEXT NOT NULL
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_patients_owner ON patients(owner_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_patient ON sessions(patient_id, created_at_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, created_at_utc)`,
}

const insertPatientSQL = `
INSERT INTO patients (
	id,
	owner_id,
	name,
	date_of_birth,
	gender,
	notes,
	created_at_utc,
	updated_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectPatientSQL = `
SELECT id, owner_id, name, date_of_birth, gender, notes, created_at_utc, updated_at_utc
FROM patients`

const insertSessionSQL = `
INSERT INTO sessions (
	id,
	owner_id,
	patient_id,
	transcript,
	structured_data,
	embedding,
	created_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectSessionSQL = `
SELECT id, owner_id, patient_id, transcript, structured_data, created_at_utc
FROM sessions`

// timeLayout keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a SQLite-backed [store.Store].
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and ensures the schema
// exists. Use ":memory:" only with a single connection; Open limits the pool
// to one connection for that case.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite store: db path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := append([]string{createPatientsTableSQL, createSessionsTableSQL}, createIndexesSQL...)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(row scanner) (store.Patient, error) {
	var (
		p                store.Patient
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.DateOfBirth, &p.Gender, &p.Notes, &created, &updated); err != nil {
		return store.Patient{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return store.Patient{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return store.Patient{}, err
	}
	return p, nil
}

func scanSession(row scanner) (store.Session, error) {
	var (
		s       store.Session
		data    string
		created string
	)
	if err := row.Scan(&s.ID, &s.OwnerID, &s.PatientID, &s.Transcript, &data, &created); err != nil {
		return store.Session{}, err
	}
	if err := json.Unmarshal([]byte(data), &s.Record); err != nil {
		return store.Session{}, fmt.Errorf("decode structured data: %w", err)
	}
	var err error
	if s.CreatedAt, err = parseTime(created); err != nil {
		return store.Session{}, err
	}
	return s, nil
}

// ownerOf returns the owner of a row in table, or ErrNotFound.
func (s *Store) ownerOf(ctx context.Context, table, id string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM `+table+` WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (s *Store) checkOwner(ctx context.Context, table, ownerID, id string) error {
	owner, err := s.ownerOf(ctx, table, id)
	if err != nil {
		return err
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
	p.ID = store.NewID()
	p.Name = strings.TrimSpace(p.Name)
	p.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	p.UpdatedAt = p.CreatedAt

	_, err := s.db.ExecContext(ctx, insertPatientSQL,
		p.ID, p.OwnerID, p.Name, p.DateOfBirth, p.Gender, p.Notes,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return store.Patient{}, fmt.Errorf("sqlite store: create patient: %w", err)
	}
	return p, nil
}

// GetPatient implements [store.Patients].
func (s *Store) GetPatient(ctx context.Context, ownerID, id string) (store.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, selectPatientSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Patient{}, store.ErrNotFound
	}
	if err != nil {
		return store.Patient{}, fmt.Errorf("sqlite store: get patient: %w", err)
	}
	if p.OwnerID != ownerID {
		return store.Patient{}, store.ErrNotOwner
	}
	return p, nil
}

// ListPatients implements [store.Patients].
func (s *Store) ListPatients(ctx context.Context, ownerID string) ([]store.Patient, error) {
	rows, err := s.db.QueryContext(ctx, selectPatientSQL+` WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list patients: %w", err)
	}
	defer rows.Close()

	out := make([]store.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan patient: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list patients: %w", err)
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
	_, err := s.db.ExecContext(ctx,
		`UPDATE patients SET name = ?, date_of_birth = ?, gender = ?, notes = ?, updated_at_utc = ? WHERE id = ?`,
		strings.TrimSpace(p.Name), p.DateOfBirth, p.Gender, p.Notes, formatTime(s.now()), p.ID)
	if err != nil {
		return store.Patient{}, fmt.Errorf("sqlite store: update patient: %w", err)
	}
	return s.GetPatient(ctx, p.OwnerID, p.ID)
}

// DeletePatient implements [store.Patients].
func (s *Store) DeletePatient(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, "patients", ownerID, id); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: delete patient: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE patient_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete patient sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete patient: %w", err)
	}
	return tx.Commit()
}

// SaveSession implements [store.Sessions].
func (s *Store) SaveSession(ctx context.Context, ns store.NewSession) (string, error) {
	if err := store.ValidateSession(ns); err != nil {
		return "", err
	}
	if err := s.checkOwner(ctx, "patients", ns.OwnerID, ns.PatientID); err != nil {
		return "", fmt.Errorf("sqlite store: save session: patient %s: %w", ns.PatientID, err)
	}

	data, err := json.Marshal(ns.Record)
	if err != nil {
		return "", fmt.Errorf("sqlite store: encode structured data: %w", err)
	}
	var emb any
	if len(ns.Embedding) > 0 {
		b, err := json.Marshal(ns.Embedding)
		if err != nil {
			return "", fmt.Errorf("sqlite store: encode embedding: %w", err)
		}
		emb = string(b)
	}

	id := store.NewID()
	_, err = s.db.ExecContext(ctx, insertSessionSQL,
		id, ns.OwnerID, ns.PatientID, ns.Transcript, string(data), emb, formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("sqlite store: save session: %w", err)
	}
	return id, nil
}

// GetSession implements [store.Sessions].
func (s *Store) GetSession(ctx context.Context, ownerID, id string) (store.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, selectSessionSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("sqlite store: get session: %w", err)
	}
	if sess.OwnerID != ownerID {
		return store.Session{}, store.ErrNotOwner
	}
	return sess, nil
}

func (s *Store) querySessions(ctx context.Context, where string, args ...any) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, selectSessionSQL+` WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListSessions implements [store.Sessions].
func (s *Store) ListSessions(ctx context.Context, ownerID, patientID string) ([]store.Session, error) {
	if err := s.checkOwner(ctx, "patients", ownerID, patientID); err != nil {
		return nil, err
	}
	out, err := s.querySessions(ctx, `patient_id = ? ORDER BY created_at_utc DESC, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	return out, nil
}

// DeleteSession implements [store.Sessions].
func (s *Store) DeleteSession(ctx context.Context, ownerID, id string) error {
	if err := s.checkOwner(ctx, "sessions", ownerID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: delete session: %w", err)
	}
	return nil
}

// SearchSessions implements [store.Sessions] with a case-insensitive LIKE
// match on the transcript.
func (s *Store) SearchSessions(ctx context.Context, ownerID, query string, limit int) ([]store.Session, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []store.Session{}, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	out, err := s.querySessions(ctx,
		`owner_id = ? AND lower(transcript) LIKE ? ESCAPE '\' ORDER BY created_at_utc DESC, id LIMIT ?`,
		ownerID, pattern, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search sessions: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// SimilarSessions implements [store.Sessions].
func (s *Store) SimilarSessions(ctx context.Context, ownerID string, embedding []float32, limit int) ([]store.SessionMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM sessions WHERE owner_id = ? AND embedding IS NOT NULL`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: similar sessions: %w", err)
	}

	type candidate struct {
		id       string
		distance float64
	}
	var cands []candidate
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store: scan embedding: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store: decode embedding: %w", err)
		}
		cands = append(cands, candidate{id: id, distance: store.CosineDistance(embedding, vec)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: similar sessions: %w", err)
	}

	slices.SortFunc(cands, func(a, b candidate) int {
		return cmp.Or(cmp.Compare(a.distance, b.distance), cmp.Compare(a.id, b.id))
	})
	if n := store.Limit(limit); len(cands) > n {
		cands = cands[:n]
	}

	out := make([]store.SessionMatch, 0, len(cands))
	for _, c := range cands {
		sess, err := s.GetSession(ctx, ownerID, c.id)
		if err != nil {
			return nil, err
		}
		out = append(out, store.SessionMatch{Session: sess, Distance: c.distance})
	}
	return out, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements [store.Store].
func (s *Store) Close() error { return s.db.Close() }
