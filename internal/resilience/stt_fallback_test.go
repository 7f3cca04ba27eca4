package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/medscribe/pkg/provider/stt/mock"
)

func testAudio() stt.Audio {
	return stt.Audio{Data: strings.NewReader("RIFF-audio"), Filename: "a.wav", ContentType: "audio/wav"}
}

// TestSTTFallbackPrimary checks that a healthy primary is used alone.
func TestSTTFallbackPrimary(t *testing.T) {
	primary := &sttmock.Provider{Result: &stt.Result{Text: "patient has fever"}}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), testAudio(), stt.Options{Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "patient has fever" {
		t.Errorf("Text = %q", res.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls = %d/%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
}

// TestSTTFallbackReplaysAudio checks that the fallback receives the full
// audio even after the primary consumed it.
func TestSTTFallbackReplaysAudio(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "ok"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Transcribe(context.Background(), testAudio(), stt.Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.CallCount() != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.CallCount())
	}
	call := secondary.Calls[0]
	if string(call.AudioBytes) != "RIFF-audio" {
		t.Errorf("secondary audio = %q", call.AudioBytes)
	}
	if call.Audio.Filename != "a.wav" {
		t.Errorf("Filename = %q", call.Audio.Filename)
	}
}

// TestSTTFallbackEmptyTranscript checks that an empty transcript is final.
func TestSTTFallbackEmptyTranscript(t *testing.T) {
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "ok"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), testAudio(), stt.Options{})
	if !errors.Is(err, stt.ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

// TestSTTFallbackAllFail checks the aggregate error.
func TestSTTFallbackAllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{Err: errors.New("a")}, "a", FallbackConfig{})
	fb.AddFallback("b", &sttmock.Provider{Err: errors.New("b")})

	_, err := fb.Transcribe(context.Background(), testAudio(), stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

// TestSTTFallbackNilAudio checks input validation.
func TestSTTFallbackNilAudio(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{}, "a", FallbackConfig{})
	if _, err := fb.Transcribe(context.Background(), stt.Audio{}, stt.Options{}); err == nil {
		t.Error("expected error for nil audio data")
	}
}
