// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Result{Text: "patient has fever"}}
//	res, _ := p.Transcribe(ctx, audio, stt.Options{})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is the audio passed to Transcribe with Data fully read into
	// AudioBytes.
	Audio stt.Audio
	// AudioBytes holds the content read from Audio.Data.
	AudioBytes []byte
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. When nil and Err is nil, Transcribe
	// returns stt.ErrEmptyTranscript.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Result, error) {
	var data []byte
	if audio.Data != nil {
		data, _ = io.ReadAll(audio.Data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Audio: audio, AudioBytes: data, Opts: opts})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return nil, stt.ErrEmptyTranscript
	}
	res := *p.Result
	return &res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
