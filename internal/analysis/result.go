package analysis

import (
	"fmt"
	"strings"

	"github.com/MrWong99/medscribe/internal/repair"
	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/pkg/clinical"
)

// Kind classifies the outcome of an analysis.
type Kind string

const (
	// KindOK marks a successful analysis.
	KindOK Kind = "ok"

	// KindInput: the transcript is empty or does not fit the model.
	KindInput Kind = "input"

	// KindAuthorization: the caller does not own the target patient.
	KindAuthorization Kind = "authorization"

	// KindUpstream: the completion endpoint failed or the breaker is open.
	KindUpstream Kind = "upstream_api"

	// KindMalformedOutput: the completion could not be repaired into JSON.
	KindMalformedOutput Kind = "malformed_output"

	// KindSchemaValidation: the normalized output does not fit the record.
	KindSchemaValidation Kind = "schema_validation"

	// KindPersistence: the record is valid but could not be stored.
	KindPersistence Kind = "persistence"

	// KindInternal: a panic was recovered or a collaborator failed
	// unexpectedly.
	KindInternal Kind = "internal"
)

// Message returns the short user-facing classification for k.
func (k Kind) Message() string {
	switch k {
	case KindOK:
		return ""
	case KindInput:
		return "Missing prompt"
	case KindAuthorization:
		return "Not authorized"
	case KindUpstream:
		return "API request failed"
	case KindMalformedOutput:
		return "Model output not valid JSON"
	case KindSchemaValidation:
		return "Invalid data shape returned by AI"
	case KindPersistence:
		return "Failed to save session"
	default:
		return "Action failed"
	}
}

// Result is the tagged outcome of [Analyzer.Analyze]. Exactly one of Data
// and Error is set, except for KindPersistence where both are: the record
// is known-good even though it could not be saved.
type Result struct {
	// Data is the validated record.
	Data *clinical.Record `json:"data,omitempty"`

	// SessionID is set when the record was persisted.
	SessionID string `json:"sessionId,omitempty"`

	// Error is the classification string of a failure.
	Error string `json:"error,omitempty"`

	// Details carries bounded diagnostics. It never holds more than
	// [repair.PreviewLen] bytes; the full validation list is in Issues.
	Details string `json:"details,omitempty"`

	// Issues lists the schema violations of a KindSchemaValidation failure.
	Issues []schema.Issue `json:"issues,omitempty"`

	// Kind classifies the result. It is not serialized; transports map it
	// to their own status codes.
	Kind Kind `json:"-"`
}

// OK reports whether the analysis produced a record.
func (r Result) OK() bool { return r.Data != nil }

// Err returns the result as an error, or nil when Kind is KindOK.
func (r Result) Err() error {
	if r.Kind == KindOK || r.Kind == "" {
		return nil
	}
	return &Error{Kind: r.Kind, Details: r.Details}
}

// Error is the error form of a failed [Result].
type Error struct {
	Kind    Kind
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Kind.Message()
	}
	return e.Kind.Message() + ": " + e.Details
}

func failure(k Kind, details string) Result {
	return Result{Kind: k, Error: k.Message(), Details: details}
}

func failuref(k Kind, format string, args ...any) Result {
	return failure(k, fmt.Sprintf(format, args...))
}

func schemaFailure(issues []schema.Issue) Result {
	lines := make([]string, len(issues))
	for i, is := range issues {
		lines[i] = is.String()
	}
	r := failure(KindSchemaValidation, summarize(lines, repair.PreviewLen))
	r.Issues = issues
	return r
}

// summarize joins lines with newlines up to limit bytes. Lines that do not
// fit are counted in a trailing "(+N more)".
func summarize(lines []string, limit int) string {
	var b strings.Builder
	for i, l := range lines {
		more := ""
		if rest := len(lines) - i - 1; rest > 0 {
			more = fmt.Sprintf("\n(+%d more)", rest)
		}
		sep := ""
		if i > 0 {
			sep = "\n"
		}
		if b.Len()+len(sep)+len(l)+len(more) <= limit {
			b.WriteString(sep)
			b.WriteString(l)
			continue
		}
		if i == 0 {
			return repair.Truncate(l, limit-len(more)) + more
		}
		return b.String() + fmt.Sprintf("\n(+%d more)", len(lines)-i)
	}
	return b.String()
}

func upstreamDetails(status int, body string) string {
	return repair.Preview(fmt.Sprintf("status %d: %s", status, body))
}
