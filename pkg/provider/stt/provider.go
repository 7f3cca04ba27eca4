// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., OpenAI Whisper,
// Deepgram, or a local whisper.cpp server) and turns one recorded audio file
// into text. The text is the raw input of the transcript cleaner; it is not
// corrected here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrEmptyTranscript is returned when the backend answered successfully but
// recognised no text.
var ErrEmptyTranscript = errors.New("stt: transcription returned empty text")

// Audio is a recorded audio file.
type Audio struct {
	// Data is the encoded audio (wav, mp3, m4a, webm, ...).
	Data io.Reader

	// Filename is the original file name. Some backends infer the format from
	// its extension.
	Filename string

	// ContentType is the MIME type, e.g. "audio/webm". May be empty.
	ContentType string
}

// KeywordBoost is a vocabulary hint that increases recognition probability
// for uncommon words such as drug names.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "metformin").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Options are per-request recognition hints.
type Options struct {
	// Language is the BCP-47 language tag (e.g., "en", "de-DE"). Empty lets
	// the backend auto-detect or use its configured default.
	Language string

	// Keywords are vocabulary hints. Backends without keyword support fold
	// them into a text prompt or ignore them.
	Keywords []KeywordBoost
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcribed speech, trimmed. Never empty on success.
	Text string

	// Language is the detected or requested language, if reported.
	Language string

	// Confidence is the overall confidence (0.0–1.0). Zero if not reported.
	Confidence float64

	// Duration is the audio length, if reported.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends the audio to the backend and waits for the transcript.
	// A successful call with no recognised speech returns [ErrEmptyTranscript].
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Result, error)
}

// APIError is returned when the backend answers with a non-success status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stt: %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewResult trims text and returns [ErrEmptyTranscript] when nothing remains.
func NewResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	return &Result{Text: text}, nil
}

// KeywordPrompt renders keywords as a comma-separated hint for backends that
// accept a free-text prompt instead of weighted keywords.
func KeywordPrompt(keywords []KeywordBoost) string {
	words := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if w := strings.TrimSpace(k.Keyword); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, ", ")
}

// Keywords wraps plain vocabulary terms as unweighted keyword boosts. Blank
// terms are skipped.
func Keywords(words []string) []KeywordBoost {
	out := make([]KeywordBoost, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, KeywordBoost{Keyword: w})
		}
	}
	return out
}
