package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends, each behind its own circuit breaker.
//
// The audio is buffered in memory once so that every backend can read it
// from the start. An empty transcript is a valid answer and does not fail
// over.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Failover == nil {
		cfg.Failover = sttFailover
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in the order they are tried.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Result, error) {
	if audio.Data == nil {
		return nil, fmt.Errorf("resilience: stt: no audio data")
	}
	data, err := io.ReadAll(audio.Data)
	if err != nil {
		return nil, fmt.Errorf("resilience: stt: read audio: %w", err)
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		a := audio
		a.Data = bytes.NewReader(data)
		return p.Transcribe(ctx, a, opts)
	})
}

func sttFailover(err error) bool {
	return !errors.Is(err, stt.ErrEmptyTranscript) && defaultIsFailure(err)
}
