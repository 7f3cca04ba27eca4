package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/provider/stt/whisper"
)

// inferenceRequest captures the fields of a multipart /inference upload.
type inferenceRequest struct {
	fields   map[string]string
	filename string
	audio    string
}

// newMockServer creates a test server that responds to POST /inference with
// the given status and JSON body, recording the parsed request.
func newMockServer(t *testing.T, status int, body any, got *inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			got.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				got.fields[k] = v[0]
			}
			f, fh, err := r.FormFile("file")
			if err == nil {
				b, _ := io.ReadAll(f)
				got.audio = string(b)
				got.filename = fh.Filename
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func audio(data string) stt.Audio {
	return stt.Audio{Data: strings.NewReader(data), Filename: "visit.wav", ContentType: "audio/wav"}
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_Success(t *testing.T) {
	var got inferenceRequest
	srv := newMockServer(t, http.StatusOK, map[string]any{"text": "  patient has feaver \n"}, &got)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Transcribe(context.Background(), audio("RIFF...."), stt.Options{
		Keywords: []stt.KeywordBoost{{Keyword: "metformin"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "patient has feaver" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if got.audio != "RIFF...." || got.filename != "visit.wav" {
		t.Errorf("uploaded file = %q (%q)", got.audio, got.filename)
	}
	for k, want := range map[string]string{"language": "en", "model": "base.en", "prompt": "metformin", "response_format": "json"} {
		if got.fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, got.fields[k], want)
		}
	}
}

func TestTranscribe_LanguageOverride(t *testing.T) {
	var got inferenceRequest
	srv := newMockServer(t, http.StatusOK, map[string]any{"text": "hallo"}, &got)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), audio("x"), stt.Options{Language: "de"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.fields["language"] != "de" {
		t.Errorf("language = %q, want de", got.fields["language"])
	}
	if _, ok := got.fields["model"]; ok {
		t.Error("model field sent although no model was configured")
	}
}

func TestTranscribe_EmptyText(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, map[string]any{"text": "   "}, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), audio("x"), stt.Options{})
	if !errors.Is(err, stt.ErrEmptyTranscript) {
		t.Fatalf("error = %v, want ErrEmptyTranscript", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := newMockServer(t, http.StatusInternalServerError, map[string]any{"error": "model not loaded"}, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), audio("x"), stt.Options{})
	var apiErr *stt.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *stt.APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || !strings.Contains(apiErr.Body, "model not loaded") {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestTranscribe_ErrorField(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, map[string]any{"error": "failed to read WAV file"}, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), audio("x"), stt.Options{})
	if err == nil || !strings.Contains(err.Error(), "failed to read WAV file") {
		t.Fatalf("error = %v, want server error message", err)
	}
}

func TestTranscribe_NilAudio(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Audio{}, stt.Options{}); err == nil {
		t.Fatal("expected error for nil audio data")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, http.StatusOK, map[string]any{"text": "x"}, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, audio("x"), stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
