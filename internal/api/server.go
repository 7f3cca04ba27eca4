// Package api serves the medscribe HTTP surface: transcript analysis, audio
// transcription, patients, sessions and rendered reports.
//
// Every /v1 route requires the owner header set by the upstream auth proxy
// and runs inside [observe.Middleware]. Failures are written as
// {"error": ..., "details": ...} with a status code derived from the
// failure kind.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/store"
)

// DefaultOwnerHeader is the request header carrying the owner identity.
const DefaultOwnerHeader = "X-Owner-ID"

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 25 << 20

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	analyzer    *analysis.Analyzer
	store       store.Store
	stt         stt.Provider
	sttName     string
	sttOptions  stt.Options
	metrics     *observe.Metrics
	ownerHeader string
	maxBody     int64
}

// Option configures a [Server].
type Option func(*Server)

// WithSTT enables POST /v1/transcribe. name labels metrics.
func WithSTT(p stt.Provider, name string) Option {
	return func(s *Server) {
		s.stt = p
		s.sttName = name
	}
}

// WithTranscribeOptions sets default recognition hints such as keyword
// boosts for drug names.
func WithTranscribeOptions(o stt.Options) Option {
	return func(s *Server) { s.sttOptions = o }
}

// WithOwnerHeader overrides [DefaultOwnerHeader].
func WithOwnerHeader(h string) Option {
	return func(s *Server) {
		if h != "" {
			s.ownerHeader = h
		}
	}
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server. Both analyzer and st are required.
func New(analyzer *analysis.Analyzer, st store.Store, opts ...Option) (*Server, error) {
	if analyzer == nil {
		return nil, errors.New("api: analyzer must not be nil")
	}
	if st == nil {
		return nil, errors.New("api: store must not be nil")
	}
	s := &Server{
		analyzer:    analyzer,
		store:       st,
		sttName:     "stt",
		ownerHeader: DefaultOwnerHeader,
		maxBody:     DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Register adds all /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		h       http.HandlerFunc
	}{
		{"POST /v1/analyze", s.handleAnalyze},
		{"POST /v1/clean", s.handleClean},
		{"POST /v1/transcribe", s.handleTranscribe},

		{"GET /v1/patients", s.handleListPatients},
		{"POST /v1/patients", s.handleCreatePatient},
		{"GET /v1/patients/{id}", s.handleGetPatient},
		{"PUT /v1/patients/{id}", s.handleUpdatePatient},
		{"DELETE /v1/patients/{id}", s.handleDeletePatient},
		{"GET /v1/patients/{id}/sessions", s.handleListSessions},

		{"GET /v1/sessions/search", s.handleSearchSessions},
		{"GET /v1/sessions/{id}", s.handleGetSession},
		{"DELETE /v1/sessions/{id}", s.handleDeleteSession},
		{"GET /v1/sessions/{id}/report", s.handleReport},
		{"GET /v1/sessions/{id}/similar", s.handleSimilar},
	}
	mw := observe.Middleware(s.metrics)
	for _, rt := range routes {
		mux.Handle(rt.pattern, mw(s.limitBody(s.requireOwner(rt.h))))
	}
}

type ownerKey struct{}

// OwnerFrom returns the owner identity stored by the owner middleware.
func OwnerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}

func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(s.ownerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "Missing owner identity", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxBody {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// errorBody is the JSON shape of every non-analysis failure.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// StatusFor maps an analysis outcome to its HTTP status.
func StatusFor(k analysis.Kind) int {
	switch k {
	case analysis.KindOK:
		return http.StatusOK
	case analysis.KindInput:
		return http.StatusBadRequest
	case analysis.KindAuthorization:
		return http.StatusForbidden
	case analysis.KindSchemaValidation:
		return http.StatusUnprocessableEntity
	case analysis.KindUpstream, analysis.KindMalformedOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError maps store sentinels to statuses. Unexpected errors are
// logged and reported without details.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", "")
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, analysis.KindAuthorization.Message(), "")
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, "Invalid input", strings.TrimPrefix(err.Error(), "store: invalid input: "))
	case errors.As(err, &mbe):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
	default:
		observe.Logger(r.Context()).Error("request failed", "route", r.Pattern, "err", err)
		writeError(w, http.StatusInternalServerError, analysis.KindInternal.Message(), "")
	}
}

// decodeJSON reads a JSON body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

// queryLimit parses ?limit=. Absent means zero, the store default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit", raw)
		return 0, false
	}
	return n, true
}
