// Package analysis turns a doctor–patient transcript into a validated
// clinical record.
//
// [Analyzer.Analyze] runs the pipeline: pre-clean the transcript, build the
// prompt, request one completion, repair the completion into JSON,
// normalize it, validate it against the record schema and optionally
// persist it. Every failure is returned as a tagged [Result]; nothing
// panics past Analyze and nothing is retried.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/medscribe/internal/normalize"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/prompt"
	"github.com/MrWong99/medscribe/internal/repair"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/pkg/clinical"
	"github.com/MrWong99/medscribe/pkg/provider/embeddings"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/store"
)

// Request is the input to [Analyzer.Analyze].
type Request struct {
	// OwnerID is the already-authenticated caller.
	OwnerID string

	// PatientID selects the patient the session is saved under. When empty
	// the record is returned but not persisted.
	PatientID string

	// Transcript is the raw conversation text.
	Transcript string
}

// Analyzer runs the analysis pipeline. It is safe for concurrent use; the
// only mutable state is the cleaner, which is swapped atomically.
type Analyzer struct {
	provider     llm.Provider
	providerName string
	cleaner      atomic.Pointer[transcript.Cleaner]
	store        store.Store
	embedder     embeddings.Provider
	metrics      *observe.Metrics

	persist     bool
	structured  bool
	temperature float64
	maxTokens   int
	maxChars    int
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithCleaner sets the pre-cleaner. Default: transcript.New().
func WithCleaner(c *transcript.Cleaner) Option {
	return func(a *Analyzer) { a.cleaner.Store(c) }
}

// WithStore enables persistence of successful analyses into s.
func WithStore(s store.Store) Option {
	return func(a *Analyzer) {
		a.store = s
		a.persist = s != nil
	}
}

// WithPersist toggles persistence when a store is configured.
func WithPersist(enabled bool) Option {
	return func(a *Analyzer) { a.persist = enabled }
}

// WithEmbedder enables session embeddings for similarity search.
func WithEmbedder(e embeddings.Provider) Option {
	return func(a *Analyzer) { a.embedder = e }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(a *Analyzer) { a.providerName = name }
}

// WithStructuredOutput asks backends that support it to constrain their
// output to the record's JSON Schema. The repair parser still runs.
func WithStructuredOutput(enabled bool) Option {
	return func(a *Analyzer) { a.structured = enabled }
}

// WithTemperature sets the sampling temperature. Zero keeps the backend
// default.
func WithTemperature(t float64) Option {
	return func(a *Analyzer) { a.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(a *Analyzer) { a.maxTokens = n }
}

// WithMaxTranscriptChars rejects longer transcripts before any network
// call. Zero disables the check.
func WithMaxTranscriptChars(n int) Option {
	return func(a *Analyzer) { a.maxChars = n }
}

// New creates an Analyzer around provider.
func New(provider llm.Provider, opts ...Option) (*Analyzer, error) {
	if provider == nil {
		return nil, errors.New("analysis: provider must not be nil")
	}
	a := &Analyzer{provider: provider, providerName: "llm"}
	for _, o := range opts {
		o(a)
	}
	if a.cleaner.Load() == nil {
		a.cleaner.Store(transcript.New())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.temperature < 0 || a.temperature > 2 {
		return nil, fmt.Errorf("analysis: temperature %v out of range [0, 2]", a.temperature)
	}
	if a.maxTokens < 0 || a.maxChars < 0 {
		return nil, errors.New("analysis: limits must not be negative")
	}
	return a, nil
}

// SetCleaner atomically replaces the pre-cleaner, e.g. after the correction
// table was reloaded. In-flight analyses keep the cleaner they started with.
func (a *Analyzer) SetCleaner(c *transcript.Cleaner) {
	if c != nil {
		a.cleaner.Store(c)
	}
}

// Clean runs only the pre-cleaner and reports the corrections it made.
func (a *Analyzer) Clean(text string) *transcript.CorrectedTranscript {
	ct := a.cleaner.Load().CleanDetailed(text)
	a.countCorrections(context.Background(), ct.Corrections)
	return ct
}

// Analyze runs the full pipeline for req. Failures, including panics, are
// reported through [Result.Kind] and never as a Go error.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "analysis.Analyze",
		trace.WithAttributes(attribute.Bool("analysis.persist", a.persisting(req))))
	a.metrics.ActiveAnalyses.Add(ctx, 1)

	defer func() {
		if p := recover(); p != nil {
			observe.Logger(ctx).Error("analysis panicked", "panic", fmt.Sprint(p))
			res = failure(KindInternal, "")
		}
		a.metrics.ActiveAnalyses.Add(ctx, -1)
		a.metrics.RecordOutcome(ctx, string(res.Kind), time.Since(start))
		span.SetAttributes(attribute.String("analysis.kind", string(res.Kind)))
		observe.EndSpan(span, res.Err())
	}()

	res = a.analyze(ctx, req)
	if res.Kind == KindOK {
		observe.Logger(ctx).Info("analysis succeeded", "session_id", res.SessionID)
	} else {
		observe.Logger(ctx).Warn("analysis failed", "kind", string(res.Kind), "details", repair.Preview(res.Details))
	}
	return res
}

func (a *Analyzer) persisting(req Request) bool {
	return a.persist && a.store != nil && req.PatientID != ""
}

func (a *Analyzer) analyze(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Transcript) == "" {
		return failure(KindInput, "")
	}

	if a.persisting(req) {
		if r, ok := a.authorize(ctx, req); !ok {
			return r
		}
	}

	cleaned := a.clean(ctx, req.Transcript)
	p := prompt.Build(cleaned)
	creq := llm.CompletionRequest{
		SystemPrompt: p.System,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: p.User}},
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}
	caps := a.provider.Capabilities()
	if r, ok := a.preflight(cleaned, creq, caps); !ok {
		return r
	}
	if a.structured && caps.SupportsStructuredOutput {
		s, err := schema.JSONSchema()
		if err != nil {
			return failuref(KindInternal, "json schema: %v", err)
		}
		creq.ResponseSchema = s
		creq.SchemaName = schema.JSONSchemaName
	}

	content, r, ok := a.complete(ctx, creq)
	if !ok {
		return r
	}

	rec, r, ok := a.interpret(ctx, content)
	if !ok {
		return r
	}

	if a.persisting(req) {
		return a.save(ctx, req, rec, cleaned)
	}
	return Result{Kind: KindOK, Data: rec}
}

// authorize checks that the caller owns the target patient before any billed
// call is made.
func (a *Analyzer) authorize(ctx context.Context, req Request) (Result, bool) {
	if req.OwnerID == "" {
		return failure(KindAuthorization, ""), false
	}
	_, err := a.store.GetPatient(ctx, req.OwnerID, req.PatientID)
	switch {
	case err == nil:
		return Result{}, true
	case errors.Is(err, store.ErrNotOwner), errors.Is(err, store.ErrNotFound):
		return failure(KindAuthorization, ""), false
	default:
		return failuref(KindInternal, "patient lookup: %v", err), false
	}
}

func (a *Analyzer) clean(ctx context.Context, text string) string {
	_, span := observe.StartSpan(ctx, "analysis.clean")
	defer span.End()

	ct := a.cleaner.Load().CleanDetailed(text)
	span.SetAttributes(attribute.Int("transcript.corrections", len(ct.Corrections)))
	a.countCorrections(ctx, ct.Corrections)
	return ct.Corrected
}

func (a *Analyzer) countCorrections(ctx context.Context, cs []transcript.Correction) {
	byMethod := map[string]int64{}
	for _, c := range cs {
		byMethod[c.Method]++
	}
	for m, n := range byMethod {
		observe.Count(ctx, a.metrics.TranscriptCorrections, "method", m, n)
	}
}

// preflight rejects transcripts that cannot fit the configured limit or the
// model's context window.
func (a *Analyzer) preflight(cleaned string, req llm.CompletionRequest, caps llm.ModelCapabilities) (Result, bool) {
	if a.maxChars > 0 {
		if n := utf8.RuneCountInString(cleaned); n > a.maxChars {
			return failuref(KindInput, "transcript too long: %d characters, limit %d", n, a.maxChars), false
		}
	}
	if caps.ContextWindow <= 0 {
		return Result{}, true
	}
	tokens, err := a.provider.CountTokens(llm.RequestMessages(req))
	if err != nil {
		// Advisory only.
		slog.Debug("token count failed", "provider", a.providerName, "err", err)
		return Result{}, true
	}
	reserve := req.MaxTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	if budget := caps.ContextWindow - reserve; tokens > budget {
		return failuref(KindInput, "transcript too long for model context: about %d tokens, budget %d", tokens, budget), false
	}
	return Result{}, true
}

func (a *Analyzer) complete(ctx context.Context, req llm.CompletionRequest) (string, Result, bool) {
	ctx, span := observe.StartSpan(ctx, "analysis.complete",
		trace.WithAttributes(attribute.String("llm.provider", a.providerName)))
	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	a.metrics.RecordProviderRequest(ctx, a.providerName, "llm", time.Since(start), err)
	observe.EndSpan(span, err)

	if err != nil {
		var apiErr *llm.APIError
		switch {
		case errors.As(err, &apiErr):
			return "", failure(KindUpstream, upstreamDetails(apiErr.StatusCode, apiErr.Body)), false
		case errors.Is(err, resilience.ErrCircuitOpen):
			return "", failure(KindUpstream, resilience.ErrCircuitOpen.Error()), false
		default:
			return "", failure(KindUpstream, repair.Preview(err.Error())), false
		}
	}
	if resp == nil {
		return "", Result{}, true
	}
	if resp.Usage.TotalTokens > 0 {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	return resp.Content, Result{}, true
}

// interpret repairs, normalizes and validates the completion text.
func (a *Analyzer) interpret(ctx context.Context, content string) (*clinical.Record, Result, bool) {
	ctx, span := observe.StartSpan(ctx, "analysis.interpret")
	defer span.End()

	v, heuristics, err := repair.Parse(content)
	for _, h := range heuristics {
		observe.Count(ctx, a.metrics.RepairHeuristics, "heuristic", string(h), 1)
	}
	if err != nil {
		var me *repair.MalformedError
		if errors.As(err, &me) {
			return nil, failure(KindMalformedOutput, me.Preview), false
		}
		return nil, failure(KindMalformedOutput, repair.Preview(content)), false
	}

	rec, issues := schema.Validate(normalize.Normalize(v))
	if len(issues) > 0 {
		for _, is := range issues {
			observe.Count(ctx, a.metrics.ValidationIssues, "section", section(is.Path), 1)
		}
		span.SetAttributes(attribute.Int("schema.issues", len(issues)))
		return nil, schemaFailure(issues), false
	}
	normalize.Finalize(rec)
	return rec, Result{}, true
}

// section returns the top-level record section of an issue path.
func section(path string) string {
	if i := strings.IndexAny(path, ".["); i >= 0 {
		return path[:i]
	}
	return path
}

func (a *Analyzer) save(ctx context.Context, req Request, rec *clinical.Record, cleaned string) Result {
	ns := store.NewSession{
		OwnerID:    req.OwnerID,
		PatientID:  req.PatientID,
		Transcript: req.Transcript,
		Record:     *rec,
		Embedding:  a.embed(ctx, EmbeddingText(rec, cleaned)),
	}

	ctx, span := observe.StartSpan(ctx, "analysis.save")
	id, err := a.store.SaveSession(ctx, ns)
	observe.EndSpan(span, err)

	switch {
	case err == nil:
		return Result{Kind: KindOK, Data: rec, SessionID: id}
	case errors.Is(err, store.ErrNotOwner), errors.Is(err, store.ErrNotFound):
		return failure(KindAuthorization, "")
	default:
		r := failure(KindPersistence, repair.Preview(err.Error()))
		r.Data = rec
		return r
	}
}

// embed returns the session embedding, or nil when embeddings are disabled
// or fail. A failed embedding never fails the analysis.
func (a *Analyzer) embed(ctx context.Context, text string) []float32 {
	if a.embedder == nil || text == "" {
		return nil
	}
	ctx, span := observe.StartSpan(ctx, "analysis.embed")
	start := time.Now()
	vec, err := embeddings.Check(ctx, a.embedder, text)
	a.metrics.RecordProviderRequest(ctx, a.embedder.ModelID(), "embeddings", time.Since(start), err)
	observe.EndSpan(span, err)
	if err != nil {
		observe.Logger(ctx).Warn("session embedding failed", "model", a.embedder.ModelID(), "err", err)
		return nil
	}
	return vec
}

// EmbeddingText is the text embedded for a session: chief complaint,
// assessment summary and differential diagnoses. When the record holds none
// of these the cleaned transcript is used.
func EmbeddingText(rec *clinical.Record, cleaned string) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if rec != nil {
		add(clinical.Deref(rec.ChiefComplaint.Complaint))
		if as := rec.Assessment; as != nil {
			add(clinical.Deref(as.Summary))
			for _, d := range as.DifferentialDiagnoses {
				add(d)
			}
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(cleaned)
	}
	return strings.Join(parts, ". ")
}
