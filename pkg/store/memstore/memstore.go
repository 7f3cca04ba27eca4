// Package memstore provides a thread-safe, in-memory [store.Store]. It is
// suitable for tests, demos and single-process deployments that do not need
// durability. The zero value is not usable; call [New].
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/medscribe/pkg/store"
)

var _ store.Store = (*Store)(nil)

type sessionRow struct {
	store.Session
	embedding []float32
}

// Store is an in-memory [store.Store].
type Store struct {
	mu       sync.RWMutex
	patients map[string]store.Patient
	sessions map[string]sessionRow
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		patients: make(map[string]store.Patient),
		sessions: make(map[string]sessionRow),
		now:      time.Now,
	}
}

// CreatePatient implements [store.Patients].
func (s *Store) CreatePatient(_ context.Context, p store.Patient) (store.Patient, error) {
	if err := store.ValidatePatient(p); err != nil {
		return store.Patient{}, err
	}
	p.ID = store.NewID()
	p.Name = strings.TrimSpace(p.Name)
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = p.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return p, nil
}

// GetPatient implements [store.Patients].
func (s *Store) GetPatient(_ context.Context, ownerID, id string) (store.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownedPatient(ownerID, id)
}

// ownedPatient must be called with s.mu held.
func (s *Store) ownedPatient(ownerID, id string) (store.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return store.Patient{}, store.ErrNotFound
	}
	if p.OwnerID != ownerID {
		return store.Patient{}, store.ErrNotOwner
	}
	return p, nil
}

// ListPatients implements [store.Patients].
func (s *Store) ListPatients(_ context.Context, ownerID string) ([]store.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Patient, 0)
	for _, p := range s.patients {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b store.Patient) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// UpdatePatient implements [store.Patients].
func (s *Store) UpdatePatient(_ context.Context, p store.Patient) (store.Patient, error) {
	if err := store.ValidatePatient(p); err != nil {
		return store.Patient{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ownedPatient(p.OwnerID, p.ID)
	if err != nil {
		return store.Patient{}, err
	}
	existing.Name = strings.TrimSpace(p.Name)
	existing.DateOfBirth = p.DateOfBirth
	existing.Gender = p.Gender
	existing.Notes = p.Notes
	existing.UpdatedAt = s.now().UTC()
	s.patients[p.ID] = existing
	return existing, nil
}

// DeletePatient implements [store.Patients].
func (s *Store) DeletePatient(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedPatient(ownerID, id); err != nil {
		return err
	}
	delete(s.patients, id)
	for sid, row := range s.sessions {
		if row.PatientID == id {
			delete(s.sessions, sid)
		}
	}
	return nil
}

// SaveSession implements [store.Sessions].
func (s *Store) SaveSession(_ context.Context, ns store.NewSession) (string, error) {
	if err := store.ValidateSession(ns); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedPatient(ns.OwnerID, ns.PatientID); err != nil {
		return "", fmt.Errorf("memstore: save session: patient %s: %w", ns.PatientID, err)
	}
	row := sessionRow{
		Session: store.Session{
			ID:         store.NewID(),
			OwnerID:    ns.OwnerID,
			PatientID:  ns.PatientID,
			Transcript: ns.Transcript,
			Record:     ns.Record,
			CreatedAt:  s.now().UTC(),
		},
		embedding: slices.Clone(ns.Embedding),
	}
	s.sessions[row.ID] = row
	return row.ID, nil
}

// GetSession implements [store.Sessions].
func (s *Store) GetSession(_ context.Context, ownerID, id string) (store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	if row.OwnerID != ownerID {
		return store.Session{}, store.ErrNotOwner
	}
	return row.Session, nil
}

// ListSessions implements [store.Sessions].
func (s *Store) ListSessions(_ context.Context, ownerID, patientID string) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ownedPatient(ownerID, patientID); err != nil {
		return nil, err
	}
	return s.collect(func(row sessionRow) bool { return row.PatientID == patientID }, 0), nil
}

// DeleteSession implements [store.Sessions].
func (s *Store) DeleteSession(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if row.OwnerID != ownerID {
		return store.ErrNotOwner
	}
	delete(s.sessions, id)
	return nil
}

// SearchSessions implements [store.Sessions] with a case-insensitive
// substring match.
func (s *Store) SearchSessions(_ context.Context, ownerID, query string, limit int) ([]store.Session, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []store.Session{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(row sessionRow) bool {
		return row.OwnerID == ownerID && strings.Contains(strings.ToLower(row.Transcript), q)
	}, store.Limit(limit)), nil
}

// SimilarSessions implements [store.Sessions].
func (s *Store) SimilarSessions(_ context.Context, ownerID string, embedding []float32, limit int) ([]store.SessionMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.SessionMatch, 0)
	for _, row := range s.sessions {
		if row.OwnerID != ownerID || len(row.embedding) == 0 {
			continue
		}
		out = append(out, store.SessionMatch{
			Session:  row.Session,
			Distance: store.CosineDistance(embedding, row.embedding),
		})
	}
	slices.SortFunc(out, func(a, b store.SessionMatch) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ID, b.ID))
	})
	if n := store.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// collect returns matching sessions newest first, truncated to limit when
// limit is positive. Must be called with s.mu held.
func (s *Store) collect(keep func(sessionRow) bool, limit int) []store.Session {
	out := make([]store.Session, 0)
	for _, row := range s.sessions {
		if keep(row) {
			out = append(out, row.Session)
		}
	}
	slices.SortFunc(out, func(a, b store.Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
