// Package deepgram provides a Deepgram-backed STT provider using the
// pre-recorded audio endpoint (POST /v1/listen). It implements the
// stt.Provider interface.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/medscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3-medical"
	defaultLanguage  = "en"
	maxErrorBody     = 4096
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3-medical", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the listen endpoint, e.g. for a self-hosted
// deployment or tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 120 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (*stt.Result, error) {
	if audio.Data == nil {
		return nil, errors.New("deepgram: audio data must not be nil")
	}
	reqURL, err := p.buildURL(opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, audio.Data)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	ct := audio.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &stt.APIError{Provider: "deepgram", StatusCode: resp.StatusCode, Body: string(data)}
	}
	return parseResponse(data)
}

// buildURL constructs the listen endpoint URL for the given options.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for _, kw := range opts.Keywords {
		if kw.Keyword == "" {
			continue
		}
		if kw.Boost != 0 {
			q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'f', -1, 64))
		} else {
			q.Add("keywords", kw.Keyword)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseResponse extracts the first alternative of the first channel.
func parseResponse(data []byte) (*stt.Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("deepgram: parse JSON response: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	alt := root.Get("results.channels.0.alternatives.0")

	res, err := stt.NewResult(alt.Get("transcript").String())
	if err != nil {
		return nil, err
	}
	res.Confidence = alt.Get("confidence").Float()
	res.Language = root.Get("results.channels.0.detected_language").String()
	if d := root.Get("metadata.duration"); d.Exists() {
		res.Duration = time.Duration(d.Float() * float64(time.Second))
	}
	return res, nil
}
