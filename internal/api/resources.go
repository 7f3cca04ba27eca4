package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/report"
	"github.com/MrWong99/medscribe/pkg/store"
)

// patientRequest is the body of patient create and update.
type patientRequest struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      string `json:"gender"`
	Notes       string `json:"notes"`
}

func (p patientRequest) patient(owner, id string) store.Patient {
	return store.Patient{
		ID:          id,
		OwnerID:     owner,
		Name:        p.Name,
		DateOfBirth: p.DateOfBirth,
		Gender:      p.Gender,
		Notes:       p.Notes,
	}
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.ListPatients(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.store.CreatePatient(r.Context(), req.patient(OwnerFrom(r.Context()), ""))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPatient(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.store.UpdatePatient(r.Context(), req.patient(OwnerFrom(r.Context()), r.PathValue("id")))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePatient(r.Context(), OwnerFrom(r.Context()), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ss, err := s.store.ListSessions(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (s *Server) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing search query", "")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	ss, err := s.store.SearchSessions(r.Context(), OwnerFrom(r.Context()), q, limit)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ss)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), OwnerFrom(r.Context()), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported report format", r.URL.Query().Get("format"))
		return
	}
	sess, err := s.store.GetSession(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	doc, err := report.Render(&sess.Record, format)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	ms, err := s.analyzer.SimilarSessions(r.Context(), OwnerFrom(r.Context()), r.PathValue("id"), limit)
	switch {
	case errors.Is(err, analysis.ErrNoEmbedder), errors.Is(err, analysis.ErrNoStore):
		writeError(w, http.StatusNotImplemented, "Similarity search is not configured.", "")
	case err != nil:
		writeStoreError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, ms)
	}
}
