// Package mcp exposes the analysis pipeline as Model Context Protocol tools.
//
// Three tools are registered on a single [mcpsdk.Server]:
//   - "clean_transcript"   corrects a raw dictation and lists the corrections.
//   - "analyze_transcript" runs the full pipeline and returns the record.
//   - "render_report"      validates a clinical record and renders it as
//     Markdown or plain text.
//
// The tool surface carries no caller identity, so analyze_transcript never
// persists; owner-scoped operations stay on the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/normalize"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/report"
	"github.com/MrWong99/medscribe/internal/schema"
	"github.com/MrWong99/medscribe/pkg/clinical"
)

// Tool names.
const (
	ToolClean   = "clean_transcript"
	ToolAnalyze = "analyze_transcript"
	ToolReport  = "render_report"
)

// Implementation name advertised to MCP clients.
const serverName = "medscribe"

// CleanArgs is the input of clean_transcript.
type CleanArgs struct {
	Transcript string `json:"transcript" jsonschema:"raw doctor-patient dictation"`
}

// CleanOutput is the result of clean_transcript.
type CleanOutput struct {
	Corrected   string           `json:"corrected"`
	Corrections []CorrectionView `json:"corrections"`
}

// CorrectionView is one applied correction.
type CorrectionView struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// AnalyzeArgs is the input of analyze_transcript.
type AnalyzeArgs struct {
	Transcript string `json:"transcript" jsonschema:"doctor-patient conversation to structure"`
}

// ReportArgs is the input of render_report.
type ReportArgs struct {
	Record map[string]any `json:"record" jsonschema:"clinical record object as returned by analyze_transcript"`
	Format string         `json:"format,omitempty" jsonschema:"markdown (default) or text"`
}

// Server holds the MCP tool server.
type Server struct {
	analyzer *analysis.Analyzer
	metrics  *observe.Metrics
	server   *mcpsdk.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics tool calls are recorded to. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the tool server. version is advertised to clients.
func New(a *analysis.Analyzer, version string, opts ...Option) (*Server, error) {
	if a == nil {
		return nil, errors.New("mcp: analyzer must not be nil")
	}
	s := &Server{analyzer: a}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if version == "" {
		version = "dev"
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolClean,
		Description: "Correct transcription errors in a medical dictation and list every correction applied.",
	}, instrument(s, ToolClean, s.clean))
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolAnalyze,
		Description: "Turn a doctor-patient conversation into a validated structured clinical record.",
	}, instrument(s, ToolAnalyze, s.analyze))
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolReport,
		Description: "Validate a structured clinical record and render it as a Markdown or plain-text report.",
	}, instrument(s, ToolReport, s.report))

	return s, nil
}

// MCP returns the underlying SDK server, for connecting custom transports.
func (s *Server) MCP() *mcpsdk.Server { return s.server }

// Handler returns a streamable HTTP handler serving the tools.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.server
	}, nil)
}

type toolFunc[In any] func(ctx context.Context, in In) (string, error)

// instrument adapts fn to an SDK tool handler. Errors are reported as tool
// results with IsError set, not as protocol errors.
func instrument[In any](s *Server, name string, fn toolFunc[In]) mcpsdk.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+name)
		start := time.Now()
		out, err := fn(ctx, in)
		s.metrics.RecordToolCall(ctx, name, time.Since(start), err)
		observe.EndSpan(span, err)

		if err != nil {
			observe.Logger(ctx).Debug("mcp tool failed", "tool", name, "err", err)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil, nil
	}
}

func (s *Server) clean(_ context.Context, in CleanArgs) (string, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return "", errors.New(analysis.KindInput.Message())
	}
	ct := s.analyzer.Clean(in.Transcript)
	out := CleanOutput{Corrected: ct.Corrected, Corrections: make([]CorrectionView, 0, len(ct.Corrections))}
	for _, c := range ct.Corrections {
		out.Corrections = append(out.Corrections, CorrectionView{
			From:       c.Original,
			To:         c.Corrected,
			Method:     c.Method,
			Confidence: c.Confidence,
		})
	}
	return encode(out)
}

func (s *Server) analyze(ctx context.Context, in AnalyzeArgs) (string, error) {
	res := s.analyzer.Analyze(ctx, analysis.Request{Transcript: in.Transcript})
	if err := res.Err(); err != nil {
		return "", err
	}
	return encode(res.Data)
}

func (s *Server) report(_ context.Context, in ReportArgs) (string, error) {
	f, err := report.ParseFormat(in.Format)
	if err != nil {
		return "", err
	}
	if in.Record == nil {
		return "", errors.New("record is required")
	}
	raw, err := json.Marshal(in.Record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	v, err := clinical.Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse record: %w", err)
	}
	rec, issues := schema.Validate(normalize.Normalize(v))
	if len(issues) > 0 {
		lines := make([]string, len(issues))
		for i, is := range issues {
			lines[i] = is.String()
		}
		return "", fmt.Errorf("%s: %s", analysis.KindSchemaValidation.Message(), strings.Join(lines, "; "))
	}
	normalize.Finalize(rec)
	return report.Render(rec, f)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
