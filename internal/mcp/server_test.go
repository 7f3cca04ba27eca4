package mcp

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/medscribe/pkg/provider/llm/mock"
)

const dictation = "Ptint has feaver and couh for 3 days, bp is high"

type fixture struct {
	llm    *llmmock.Provider
	reader *sdkmetric.ManualReader
	cs     *mcpsdk.ClientSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"patient":{"fullName":"Jane Doe","age":"45 years old"},"chiefComplaint":{"complaint":"fever and cough"}}`,
	}}
	an, err := analysis.New(p, analysis.WithMetrics(m))
	if err != nil {
		t.Fatalf("analysis.New: %v", err)
	}
	srv, err := New(an, "test", WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return &fixture{llm: p, reader: reader, cs: cs}
}

func (f *fixture) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := f.cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError
}

// TestListTools checks that all three tools are advertised.
func TestListTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{ToolAnalyze, ToolClean, ToolReport}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

// TestCleanTranscript checks corrections are applied and reported.
func TestCleanTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, isErr := f.call(t, ToolClean, map[string]any{"transcript": dictation})
	if isErr {
		t.Fatalf("unexpected tool error: %s", out)
	}
	if got := gjson.Get(out, "corrected").String(); got != "patient has fever and cough for 3 days, blood pressure is high" {
		t.Errorf("corrected = %q", got)
	}
	if n := gjson.Get(out, "corrections.#").Int(); n == 0 {
		t.Error("no corrections reported")
	}

	out, isErr = f.call(t, ToolClean, map[string]any{"transcript": "   "})
	if !isErr || out != "Missing prompt" {
		t.Errorf("blank transcript = %q (isError %v)", out, isErr)
	}
}

// TestAnalyzeTranscript checks the happy path and that nothing is persisted.
func TestAnalyzeTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, isErr := f.call(t, ToolAnalyze, map[string]any{"transcript": dictation})
	if isErr {
		t.Fatalf("unexpected tool error: %s", out)
	}
	if got := gjson.Get(out, "patient.age").Int(); got != 45 {
		t.Errorf("patient.age = %d, want 45", got)
	}
	if got := gjson.Get(out, "chiefComplaint.complaint").String(); got != "fever and cough" {
		t.Errorf("complaint = %q", got)
	}
	if calls := f.llm.Calls(); len(calls) != 1 {
		t.Errorf("completion calls = %d, want 1", len(calls))
	}
}

// TestAnalyzeTranscriptFailure checks that pipeline failures surface as
// tool errors carrying the classification message.
func TestAnalyzeTranscriptFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.CompleteErr = errors.New("connection refused")
	f.llm.CompleteResponse = nil

	out, isErr := f.call(t, ToolAnalyze, map[string]any{"transcript": dictation})
	if !isErr {
		t.Fatalf("expected tool error, got %s", out)
	}
	if !strings.HasPrefix(out, "API request failed") {
		t.Errorf("error = %q", out)
	}
}

// TestRenderReport checks record validation and both output formats.
func TestRenderReport(t *testing.T) {
	t.Parallel()

	record := map[string]any{
		"patient":        map[string]any{"fullName": "Jane Doe", "age": "45 years old"},
		"chiefComplaint": map[string]any{"complaint": "fever"},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
		want    []string
	}{
		{
			name: "markdown default",
			args: map[string]any{"record": record},
			want: []string{"# Clinical Record", "- **Full Name:** Jane Doe", "- **Age:** 45"},
		},
		{
			name: "text",
			args: map[string]any{"record": record, "format": "text"},
			want: []string{"CLINICAL RECORD", "Jane Doe"},
		},
		{
			name:    "bad format",
			args:    map[string]any{"record": record, "format": "pdf"},
			wantErr: true,
		},
		{
			name:    "invalid record",
			args:    map[string]any{"record": map[string]any{"patient": map[string]any{}, "chiefComplaint": "fever"}},
			wantErr: true,
			want:    []string{"Invalid data shape returned by AI", "chiefComplaint: expected object"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			out, isErr := f.call(t, ToolReport, tt.args)
			if isErr != tt.wantErr {
				t.Fatalf("isError = %v, want %v (%s)", isErr, tt.wantErr, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

// TestToolMetrics checks that tool calls are counted by status.
func TestToolMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.call(t, ToolClean, map[string]any{"transcript": dictation})
	f.call(t, ToolClean, map[string]any{"transcript": ""})

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "medscribe.mcp.tool.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("tool calls data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				counts[status.AsString()] += dp.Value
			}
		}
	}
	if counts["ok"] != 1 || counts["error"] != 1 {
		t.Errorf("tool call counts = %v, want ok=1 error=1", counts)
	}
}

// TestNewValidation checks constructor argument validation.
func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, ""); err == nil {
		t.Error("expected error for nil analyzer")
	}
}
