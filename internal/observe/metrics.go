// Package observe provides application-wide observability primitives for
// medscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format by [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all medscribe metrics.
const meterName = "github.com/MrWong99/medscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Analysis pipeline ---

	// AnalysisDuration tracks the end-to-end latency of one analysis.
	AnalysisDuration metric.Float64Histogram

	// AnalysisOutcomes counts finished analyses. Attribute: "kind" ("ok" or
	// the failure kind).
	AnalysisOutcomes metric.Int64Counter

	// ActiveAnalyses tracks analyses currently in flight.
	ActiveAnalyses metric.Int64UpDownCounter

	// ValidationIssues counts schema issues. Attribute: "section".
	ValidationIssues metric.Int64Counter

	// RepairHeuristics counts repairs applied to model output. Attribute:
	// "heuristic".
	RepairHeuristics metric.Int64Counter

	// TranscriptCorrections counts pre-cleaner substitutions. Attribute:
	// "method".
	TranscriptCorrections metric.Int64Counter

	// --- Providers ---

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// STTDuration tracks batch transcription latency.
	STTDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding latency.
	EmbeddingDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes: "provider",
	// "kind", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: "provider", "kind".
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// "breaker", "state".
	BreakerTransitions metric.Int64Counter

	// --- Surfaces ---

	// ToolCalls counts MCP tool invocations. Attributes: "tool", "status".
	ToolCalls metric.Int64Counter

	// ToolDuration tracks MCP tool latency. Attribute: "tool".
	ToolDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// "method", "route", "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Completions of long
// transcripts routinely take tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.AnalysisDuration, err = histogram("medscribe.analysis.duration",
		"End-to-end latency of transcript analysis."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("medscribe.llm.duration",
		"Latency of LLM completions."); err != nil {
		return nil, err
	}
	if met.STTDuration, err = histogram("medscribe.stt.duration",
		"Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = histogram("medscribe.embeddings.duration",
		"Latency of embedding requests."); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = histogram("medscribe.mcp.tool.duration",
		"Latency of MCP tool calls."); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = histogram("medscribe.http.request.duration",
		"HTTP request latency by method, route and status."); err != nil {
		return nil, err
	}

	if met.AnalysisOutcomes, err = m.Int64Counter("medscribe.analysis.outcomes",
		metric.WithDescription("Finished analyses by outcome kind."),
	); err != nil {
		return nil, err
	}
	if met.ValidationIssues, err = m.Int64Counter("medscribe.validation.issues",
		metric.WithDescription("Schema validation issues by record section."),
	); err != nil {
		return nil, err
	}
	if met.RepairHeuristics, err = m.Int64Counter("medscribe.repair.heuristics",
		metric.WithDescription("Repairs applied to model output by heuristic."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptCorrections, err = m.Int64Counter("medscribe.transcript.corrections",
		metric.WithDescription("Transcript corrections by method."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("medscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("medscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("medscribe.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("medscribe.mcp.tool.calls",
		metric.WithDescription("MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveAnalyses, err = m.Int64UpDownCounter("medscribe.analysis.active",
		metric.WithDescription("Number of analyses in flight."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call with its latency. kind is
// "llm", "stt" or "embeddings"; err decides the status attribute and, when
// non-nil, also increments ProviderErrors.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))

	attrs := metric.WithAttributes(attribute.String("provider", provider))
	switch kind {
	case "llm":
		m.LLMDuration.Record(ctx, d.Seconds(), attrs)
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds(), attrs)
	case "embeddings":
		m.EmbeddingDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordOutcome records a finished analysis.
func (m *Metrics) RecordOutcome(ctx context.Context, kind string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.AnalysisOutcomes.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}

// Count adds n to c with a single string attribute. It is a shorthand for
// the per-label counters of the analysis pipeline.
func Count(ctx context.Context, c metric.Int64Counter, key, value string, n int64) {
	if n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attribute.String(key, value)))
}
