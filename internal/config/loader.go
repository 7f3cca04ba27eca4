package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultOwnerHeader         = "X-Owner-ID"
	DefaultMaxBodyBytes        = 25 << 20
	DefaultReadTimeout         = 30 * time.Second
	DefaultWriteTimeout        = 2 * time.Minute
	DefaultEmbeddingDimensions = 1536
	DefaultMCPPath             = "/mcp"
	DefaultMetricsPath         = "/metrics"
	DefaultServiceName         = "medscribe"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "openrouter", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "whisper", "deepgram"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ExpandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand replaces every ${VAR} in s with the value of VAR. Other dollar signs
// are left alone.
func expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// ExpandEnv expands ${VAR} references in secrets and endpoints.
func ExpandEnv(cfg *Config) {
	entries := []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.STT, &cfg.Providers.Embeddings}
	for i := range cfg.Providers.STTFallbacks {
		entries = append(entries, &cfg.Providers.STTFallbacks[i])
	}
	for _, e := range entries {
		e.APIKey = expand(e.APIKey)
		e.BaseURL = expand(e.BaseURL)
	}
	cfg.Store.DSN = expand(cfg.Store.DSN)
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.OwnerHeader == "" {
		s.OwnerHeader = DefaultOwnerHeader
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Store.EmbeddingDimensions == 0 {
		cfg.Store.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.Observe.MetricsPath == "" {
		cfg.Observe.MetricsPath = DefaultMetricsPath
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}

	// Store
	switch {
	case !cfg.Store.Driver.IsValid():
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite, memory", cfg.Store.Driver))
	case cfg.Store.Driver != StoreMemory && cfg.Store.DSN == "":
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.Driver == StoreSQLite {
		slog.Warn("providers.embeddings is configured with the sqlite store; similar-session search scans all sessions in memory")
	}

	// Transcript
	for k := range cfg.Transcript.Corrections {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("transcript.corrections has an empty key"))
			break
		}
	}
	if th := cfg.Transcript.Phonetic.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic.threshold %.2f is out of range [0, 1]", th))
	}
	if cfg.Transcript.Phonetic.MinLength < 0 {
		errs = append(errs, errors.New("transcript.phonetic.min_length must not be negative"))
	}

	// Analysis
	a := cfg.Analysis
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("analysis.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, errors.New("analysis.max_tokens must not be negative"))
	}
	if a.MaxTranscriptChars < 0 {
		errs = append(errs, errors.New("analysis.max_transcript_chars must not be negative"))
	}
	cb := a.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("analysis.circuit_breaker values must not be negative"))
	}

	// Surfaces
	if !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if !strings.HasPrefix(cfg.Observe.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("observe.metrics_path %q must start with /", cfg.Observe.MetricsPath))
	}
	if cfg.MCP.Enabled && cfg.MCP.Path == cfg.Observe.MetricsPath {
		errs = append(errs, fmt.Errorf("mcp.path and observe.metrics_path are both %q", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
