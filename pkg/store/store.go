// Package store defines the persistence contracts for patients and analysed
// sessions.
//
// Every operation is scoped by an owner identity supplied by the caller. A
// row that exists but belongs to another owner yields [ErrNotOwner] so the
// HTTP layer can tell "forbidden" apart from "missing".
//
// Backends live in sub-packages: postgres (pgx + pgvector), sqlite (pure-Go
// modernc driver) and memstore (in-process, for tests and demos). All
// implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/medscribe/pkg/clinical"
)

var (
	// ErrNotFound is returned when the requested patient or session does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNotOwner is returned when the row exists but belongs to another owner.
	ErrNotOwner = errors.New("store: not owned by caller")

	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("store: invalid input")
)

// DefaultLimit caps search results when the caller passes a non-positive limit.
const DefaultLimit = 20

// Patient is a person whose encounters are documented.
type Patient struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Session is one analysed encounter.
type Session struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	PatientID  string          `json:"patientId"`
	Transcript string          `json:"transcript"`
	Record     clinical.Record `json:"structuredData"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewSession is the input to [Sessions.SaveSession].
type NewSession struct {
	OwnerID    string
	PatientID  string
	Transcript string
	Record     clinical.Record

	// Embedding is optional. When set, its length must match the store's
	// configured dimension.
	Embedding []float32
}

// SessionMatch is a session returned by a similarity query.
type SessionMatch struct {
	Session

	// Distance is the cosine distance to the query embedding; smaller is closer.
	Distance float64 `json:"distance"`
}

// Patients manages patient rows.
type Patients interface {
	// CreatePatient validates p, assigns an ID and timestamps, and stores it.
	CreatePatient(ctx context.Context, p Patient) (Patient, error)

	// GetPatient returns the patient with id.
	GetPatient(ctx context.Context, ownerID, id string) (Patient, error)

	// ListPatients returns the owner's patients ordered by name.
	ListPatients(ctx context.Context, ownerID string) ([]Patient, error)

	// UpdatePatient replaces the mutable fields of an existing patient.
	UpdatePatient(ctx context.Context, p Patient) (Patient, error)

	// DeletePatient removes the patient and all of its sessions.
	DeletePatient(ctx context.Context, ownerID, id string) error
}

// Sessions manages analysed sessions.
type Sessions interface {
	// SaveSession stores s and returns the assigned session ID. The patient
	// must exist and belong to s.OwnerID.
	SaveSession(ctx context.Context, s NewSession) (string, error)

	// GetSession returns the session with id.
	GetSession(ctx context.Context, ownerID, id string) (Session, error)

	// ListSessions returns the patient's sessions, newest first.
	ListSessions(ctx context.Context, ownerID, patientID string) ([]Session, error)

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, ownerID, id string) error

	// SearchSessions returns the owner's sessions whose transcript matches
	// query, newest first.
	SearchSessions(ctx context.Context, ownerID, query string, limit int) ([]Session, error)

	// SimilarSessions returns the owner's sessions closest to embedding.
	// Sessions stored without an embedding never match.
	SimilarSessions(ctx context.Context, ownerID string, embedding []float32, limit int) ([]SessionMatch, error)
}

// Store is the full persistence collaborator.
type Store interface {
	Patients
	Sessions

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
