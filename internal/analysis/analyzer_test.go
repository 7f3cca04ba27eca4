package analysis_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/repair"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/clinical"
	embmock "github.com/MrWong99/medscribe/pkg/provider/embeddings/mock"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/medscribe/pkg/store"
	"github.com/MrWong99/medscribe/pkg/store/memstore"
)

const (
	dictation  = "Ptint has feaver and couh for 3 days, bp is high"
	completion = `{"chiefComplaint":{"complaint":"fever and cough","duration":"3 days"},"patient":{}}`
	owner      = "doc-1"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newAnalyzer(t *testing.T, p llm.Provider, opts ...analysis.Option) *analysis.Analyzer {
	t.Helper()
	m, _ := testMetrics(t)
	a, err := analysis.New(p, append([]analysis.Option{analysis.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func respond(content string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func newStoreWithPatient(t *testing.T) (*memstore.Store, string) {
	t.Helper()
	s := memstore.New()
	p, err := s.CreatePatient(context.Background(), store.Patient{OwnerID: owner, Name: "Jane Doe"})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return s, p.ID
}

// TestAnalyzeDictationScenario runs the dictation example through the whole
// pipeline.
func TestAnalyzeDictationScenario(t *testing.T) {
	t.Parallel()

	p := respond(completion)
	a := newAnalyzer(t, p)

	res := a.Analyze(context.Background(), analysis.Request{OwnerID: owner, Transcript: dictation})
	if res.Kind != analysis.KindOK || res.Error != "" {
		t.Fatalf("Kind = %q, Error = %q, Details = %q", res.Kind, res.Error, res.Details)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	user := calls[0].Req.Messages[0].Content
	if want := "patient has fever and cough for 3 days, blood pressure is high"; !strings.HasSuffix(user, want) {
		t.Errorf("prompt = %q, want cleaned transcript %q", user, want)
	}
	if calls[0].Req.SystemPrompt == "" {
		t.Error("system prompt not set")
	}

	rec := res.Data
	if got := clinical.Deref(rec.ChiefComplaint.Complaint); got != "fever and cough" {
		t.Errorf("complaint = %q", got)
	}
	if got := clinical.Deref(rec.ChiefComplaint.Duration); got != "3 days" {
		t.Errorf("duration = %q", got)
	}
	if rec.Assessment != nil || rec.Medications != nil || rec.PastMedicalHistory != nil {
		t.Errorf("optional sections should be absent: %+v", rec)
	}
	if res.SessionID != "" {
		t.Errorf("SessionID = %q without a store", res.SessionID)
	}
}

// TestAnalyzeEmptyTranscript checks the input error and that no billed call
// is made.
func TestAnalyzeEmptyTranscript(t *testing.T) {
	t.Parallel()

	p := respond(completion)
	a := newAnalyzer(t, p)

	for _, in := range []string{"", "   \n\t"} {
		res := a.Analyze(context.Background(), analysis.Request{Transcript: in})
		if res.Kind != analysis.KindInput || res.Error != "Missing prompt" {
			t.Errorf("Analyze(%q) = %q/%q", in, res.Kind, res.Error)
		}
	}
	if n := len(p.Calls()); n != 0 {
		t.Errorf("Complete called %d times, want 0", n)
	}
}

// TestAnalyzeFailures checks the classification of every failure the
// completion step can produce.
func TestAnalyzeFailures(t *testing.T) {
	t.Parallel()

	longBody := strings.Repeat("x", 500)
	tests := []struct {
		name        string
		provider    *llmmock.Provider
		wantKind    analysis.Kind
		wantError   string
		wantDetails func(string) bool
	}{
		{
			name:      "api error",
			provider:  &llmmock.Provider{CompleteErr: &llm.APIError{Provider: "p", StatusCode: 503, Body: longBody}},
			wantKind:  analysis.KindUpstream,
			wantError: "API request failed",
			wantDetails: func(d string) bool {
				return strings.HasPrefix(d, "status 503: ") && len(d) == repair.PreviewLen
			},
		},
		{
			name:      "wrapped api error",
			provider:  &llmmock.Provider{CompleteErr: fmt.Errorf("x: %w", &llm.APIError{StatusCode: 401, Body: "bad key"})},
			wantKind:  analysis.KindUpstream,
			wantError: "API request failed",
			wantDetails: func(d string) bool {
				return d == "status 401: bad key"
			},
		},
		{
			name:        "circuit open",
			provider:    &llmmock.Provider{CompleteErr: fmt.Errorf("resilience: llm: %w", resilience.ErrCircuitOpen)},
			wantKind:    analysis.KindUpstream,
			wantError:   "API request failed",
			wantDetails: func(d string) bool { return d == resilience.ErrCircuitOpen.Error() },
		},
		{
			name:        "transport error",
			provider:    &llmmock.Provider{CompleteErr: errors.New("dial tcp: connection refused")},
			wantKind:    analysis.KindUpstream,
			wantError:   "API request failed",
			wantDetails: func(d string) bool { return strings.Contains(d, "connection refused") },
		},
		{
			name:      "malformed",
			provider:  respond("I cannot help with that. " + longBody),
			wantKind:  analysis.KindMalformedOutput,
			wantError: "Model output not valid JSON",
			wantDetails: func(d string) bool {
				return strings.HasPrefix(d, "I cannot help") && len(d) == repair.PreviewLen
			},
		},
		{
			name:        "empty completion",
			provider:    respond(""),
			wantKind:    analysis.KindMalformedOutput,
			wantError:   "Model output not valid JSON",
			wantDetails: func(d string) bool { return d == "" },
		},
		{
			name:        "nil response",
			provider:    &llmmock.Provider{},
			wantKind:    analysis.KindMalformedOutput,
			wantError:   "Model output not valid JSON",
			wantDetails: func(string) bool { return true },
		},
		{
			name:        "panic",
			provider:    &llmmock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) { panic("boom") }},
			wantKind:    analysis.KindInternal,
			wantError:   "Action failed",
			wantDetails: func(d string) bool { return d == "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newAnalyzer(t, tt.provider)
			res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
			if res.Kind != tt.wantKind {
				t.Fatalf("Kind = %q, want %q (details %q)", res.Kind, tt.wantKind, res.Details)
			}
			if res.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantError)
			}
			if !tt.wantDetails(res.Details) {
				t.Errorf("unexpected Details %q", res.Details)
			}
			if res.Data != nil {
				t.Error("Data set on failure")
			}
			if res.Err() == nil {
				t.Error("Err() = nil on failure")
			}
		})
	}
}

// TestAnalyzeSchemaValidation checks that all issues are reported together.
func TestAnalyzeSchemaValidation(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t, respond(`{"chiefComplaint":"chest pain","patient":{"age":{"years":4}}}`))
	res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})

	if res.Kind != analysis.KindSchemaValidation || res.Error != "Invalid data shape returned by AI" {
		t.Fatalf("Kind = %q, Error = %q", res.Kind, res.Error)
	}
	if len(res.Issues) != 2 {
		t.Fatalf("Issues = %v, want 2", res.Issues)
	}
	lines := strings.Split(res.Details, "\n")
	if len(lines) != 2 {
		t.Fatalf("Details = %q, want two lines", res.Details)
	}
	if !strings.HasPrefix(lines[0], "patient.age: expected") {
		t.Errorf("first issue = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "chiefComplaint: expected") {
		t.Errorf("second issue = %q", lines[1])
	}
}

// TestAnalyzeSchemaValidation_BoundedDetails checks that a long issue list
// is summarized in Details while Issues keeps every entry.
func TestAnalyzeSchemaValidation_BoundedDetails(t *testing.T) {
	t.Parallel()

	items := make([]string, 300)
	for i := range items {
		items[i] = `{"dose":"5mg"}`
	}
	out := `{"chiefComplaint":{"complaint":"cough"},"patient":{},"medications":{"current":[` +
		strings.Join(items, ",") + `]}}`
	res := newAnalyzer(t, respond(out)).Analyze(context.Background(), analysis.Request{Transcript: dictation})

	if res.Kind != analysis.KindSchemaValidation {
		t.Fatalf("Kind = %q, details %q", res.Kind, res.Details)
	}
	if len(res.Issues) != 300 {
		t.Errorf("Issues = %d, want 300", len(res.Issues))
	}
	if len(res.Details) > repair.PreviewLen {
		t.Errorf("len(Details) = %d, want <= %d", len(res.Details), repair.PreviewLen)
	}
	if !strings.HasPrefix(res.Details, "medications.current[0].name: expected") {
		t.Errorf("Details = %q", res.Details)
	}
	if !strings.HasSuffix(res.Details, " more)") {
		t.Errorf("Details = %q, want a (+N more) suffix", res.Details)
	}
}

// TestAnalyzeRepairsAndNormalizes checks that fenced, concatenated output is
// repaired and that normalization runs before validation.
func TestAnalyzeRepairsAndNormalizes(t *testing.T) {
	t.Parallel()

	raw := "```json\n" +
		`{"patient":{"age":"45 years old"},"chiefComplaint":{"complaint":"cough","duration":"n/a"}}` +
		`{"pastMedicalHistory":{"chronicDiseases":"diabetes, hypertension"}}` +
		"\n```"
	a := newAnalyzer(t, respond(raw))
	res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
	if res.Kind != analysis.KindOK {
		t.Fatalf("Kind = %q, details %q", res.Kind, res.Details)
	}
	rec := res.Data
	if rec.Patient.Age == nil || *rec.Patient.Age != 45 {
		t.Errorf("age = %v, want 45", rec.Patient.Age)
	}
	if rec.ChiefComplaint.Duration != nil {
		t.Errorf("duration = %q, want nil", *rec.ChiefComplaint.Duration)
	}
	pmh := rec.PastMedicalHistory
	if pmh == nil || len(pmh.ChronicDiseases) != 2 || pmh.ChronicDiseases[1] != "hypertension" {
		t.Fatalf("pastMedicalHistory = %+v", pmh)
	}
	if pmh.Surgeries == nil {
		t.Error("Surgeries is nil, want empty list")
	}
}

// TestAnalyzePersists checks persistence, the stored transcript and the
// session embedding.
func TestAnalyzePersists(t *testing.T) {
	t.Parallel()

	s, patientID := newStoreWithPatient(t)
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0, 0}, DimensionsValue: 4, ModelIDValue: "m"}
	a := newAnalyzer(t, respond(completion), analysis.WithStore(s), analysis.WithEmbedder(emb))

	res := a.Analyze(context.Background(), analysis.Request{OwnerID: owner, PatientID: patientID, Transcript: dictation})
	if res.Kind != analysis.KindOK {
		t.Fatalf("Kind = %q, details %q", res.Kind, res.Details)
	}
	if res.SessionID == "" {
		t.Fatal("SessionID not set")
	}

	sess, err := s.GetSession(context.Background(), owner, res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Transcript != dictation {
		t.Errorf("stored transcript = %q, want the raw input", sess.Transcript)
	}
	if clinical.Deref(sess.Record.ChiefComplaint.Complaint) != "fever and cough" {
		t.Errorf("stored record = %+v", sess.Record)
	}
	if texts := emb.Texts(); len(texts) != 1 || texts[0] != "fever and cough" {
		t.Errorf("embedded texts = %q", texts)
	}
}

// TestAnalyzeWithoutPatientDoesNotPersist checks that a request without a
// patient returns data only.
func TestAnalyzeWithoutPatientDoesNotPersist(t *testing.T) {
	t.Parallel()

	s, _ := newStoreWithPatient(t)
	a := newAnalyzer(t, respond(completion), analysis.WithStore(s))
	res := a.Analyze(context.Background(), analysis.Request{OwnerID: owner, Transcript: dictation})
	if res.Kind != analysis.KindOK || res.SessionID != "" {
		t.Errorf("Kind = %q, SessionID = %q", res.Kind, res.SessionID)
	}
}

// TestAnalyzeUnauthorizedSkipsCompletion checks that ownership is verified
// before the billed call.
func TestAnalyzeUnauthorizedSkipsCompletion(t *testing.T) {
	t.Parallel()

	s, patientID := newStoreWithPatient(t)
	tests := []struct {
		name, owner, patient string
	}{
		{"other owner", "doc-2", patientID},
		{"missing owner", "", patientID},
		{"unknown patient", owner, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := respond(completion)
			a := newAnalyzer(t, p, analysis.WithStore(s))
			res := a.Analyze(context.Background(), analysis.Request{OwnerID: tt.owner, PatientID: tt.patient, Transcript: dictation})
			if res.Kind != analysis.KindAuthorization || res.Error != "Not authorized" {
				t.Errorf("Kind = %q, Error = %q", res.Kind, res.Error)
			}
			if n := len(p.Calls()); n != 0 {
				t.Errorf("Complete called %d times, want 0", n)
			}
		})
	}
}

type failingSaves struct {
	store.Store
	err error
}

func (f failingSaves) SaveSession(context.Context, store.NewSession) (string, error) {
	return "", f.err
}

// TestAnalyzePersistenceFailureKeepsData checks that a storage failure is
// reported separately and the valid record is still returned.
func TestAnalyzePersistenceFailureKeepsData(t *testing.T) {
	t.Parallel()

	s, patientID := newStoreWithPatient(t)
	a := newAnalyzer(t, respond(completion), analysis.WithStore(failingSaves{Store: s, err: errors.New("disk full")}))

	res := a.Analyze(context.Background(), analysis.Request{OwnerID: owner, PatientID: patientID, Transcript: dictation})
	if res.Kind != analysis.KindPersistence || res.Error != "Failed to save session" {
		t.Fatalf("Kind = %q, Error = %q", res.Kind, res.Error)
	}
	if !strings.Contains(res.Details, "disk full") {
		t.Errorf("Details = %q", res.Details)
	}
	if res.Data == nil || clinical.Deref(res.Data.ChiefComplaint.Complaint) != "fever and cough" {
		t.Error("record not returned with persistence failure")
	}
}

// TestAnalyzeEmbeddingFailureIgnored checks that a broken embedder does not
// fail the analysis.
func TestAnalyzeEmbeddingFailureIgnored(t *testing.T) {
	t.Parallel()

	s, patientID := newStoreWithPatient(t)
	emb := &embmock.Provider{EmbedErr: errors.New("quota"), DimensionsValue: 4, ModelIDValue: "m"}
	a := newAnalyzer(t, respond(completion), analysis.WithStore(s), analysis.WithEmbedder(emb))

	res := a.Analyze(context.Background(), analysis.Request{OwnerID: owner, PatientID: patientID, Transcript: dictation})
	if res.Kind != analysis.KindOK || res.SessionID == "" {
		t.Errorf("Kind = %q, SessionID = %q", res.Kind, res.SessionID)
	}
}

// TestAnalyzePreflight checks the length and context-window limits.
func TestAnalyzePreflight(t *testing.T) {
	t.Parallel()

	t.Run("max chars", func(t *testing.T) {
		t.Parallel()
		p := respond(completion)
		a := newAnalyzer(t, p, analysis.WithMaxTranscriptChars(10))
		res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
		if res.Kind != analysis.KindInput || !strings.Contains(res.Details, "limit 10") {
			t.Errorf("Kind = %q, Details = %q", res.Kind, res.Details)
		}
		if len(p.Calls()) != 0 {
			t.Error("Complete called")
		}
	})

	t.Run("context window", func(t *testing.T) {
		t.Parallel()
		p := respond(completion)
		p.TokenCount = 900
		p.ModelCapabilities = llm.ModelCapabilities{ContextWindow: 1000, MaxOutputTokens: 200}
		a := newAnalyzer(t, p)
		res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
		if res.Kind != analysis.KindInput || !strings.Contains(res.Details, "budget 800") {
			t.Errorf("Kind = %q, Details = %q", res.Kind, res.Details)
		}
		if len(p.Calls()) != 0 {
			t.Error("Complete called")
		}
	})

	t.Run("explicit max tokens", func(t *testing.T) {
		t.Parallel()
		p := respond(completion)
		p.TokenCount = 900
		p.ModelCapabilities = llm.ModelCapabilities{ContextWindow: 1000, MaxOutputTokens: 200}
		a := newAnalyzer(t, p, analysis.WithMaxTokens(50))
		res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
		if res.Kind != analysis.KindOK {
			t.Errorf("Kind = %q, Details = %q", res.Kind, res.Details)
		}
		if got := p.Calls()[0].Req.MaxTokens; got != 50 {
			t.Errorf("MaxTokens = %d, want 50", got)
		}
	})
}

// TestAnalyzeStructuredOutput checks that the schema is attached only for
// backends that support it.
func TestAnalyzeStructuredOutput(t *testing.T) {
	t.Parallel()

	for _, supported := range []bool{true, false} {
		p := respond(completion)
		p.ModelCapabilities = llm.ModelCapabilities{SupportsStructuredOutput: supported}
		a := newAnalyzer(t, p, analysis.WithStructuredOutput(true), analysis.WithTemperature(0.2))
		if res := a.Analyze(context.Background(), analysis.Request{Transcript: dictation}); res.Kind != analysis.KindOK {
			t.Fatalf("Kind = %q", res.Kind)
		}
		req := p.Calls()[0].Req
		if got := req.ResponseSchema != nil; got != supported {
			t.Errorf("supported=%v: schema attached = %v", supported, got)
		}
		if supported && req.SchemaName != "clinical_record" {
			t.Errorf("SchemaName = %q", req.SchemaName)
		}
		if req.Temperature != 0.2 {
			t.Errorf("Temperature = %v", req.Temperature)
		}
	}
}

// TestSetCleaner checks that a swapped cleaner is used for later analyses.
func TestSetCleaner(t *testing.T) {
	t.Parallel()

	p := respond(completion)
	a := newAnalyzer(t, p)
	a.SetCleaner(transcript.New(transcript.WithCorrections(map[string]string{"sob": "shortness of breath"})))
	a.SetCleaner(nil)

	a.Analyze(context.Background(), analysis.Request{Transcript: "pt has sob"})
	if user := p.Calls()[0].Req.Messages[0].Content; !strings.Contains(user, "shortness of breath") {
		t.Errorf("prompt = %q", user)
	}

	ct := a.Clean("sob and couh")
	if ct.Corrected != "shortness of breath and cough" {
		t.Errorf("Clean = %q", ct.Corrected)
	}
	if len(ct.Corrections) != 2 {
		t.Errorf("Corrections = %+v", ct.Corrections)
	}
}

// TestNewValidation checks constructor validation.
func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := analysis.New(nil); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := analysis.New(respond(""), analysis.WithTemperature(3)); err == nil {
		t.Error("expected error for temperature 3")
	}
	if _, err := analysis.New(respond(""), analysis.WithMaxTokens(-1)); err == nil {
		t.Error("expected error for negative max tokens")
	}
}

// TestAnalyzeRecordsOutcome checks the outcome metric.
func TestAnalyzeRecordsOutcome(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	a, err := analysis.New(respond(completion), analysis.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Analyze(context.Background(), analysis.Request{Transcript: dictation})
	a.Analyze(context.Background(), analysis.Request{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "medscribe.analysis.outcomes" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("kind")
				got[v.AsString()] += dp.Value
			}
		}
	}
	if got["ok"] != 1 || got["input"] != 1 {
		t.Errorf("outcomes = %v, want ok=1 input=1", got)
	}
}
