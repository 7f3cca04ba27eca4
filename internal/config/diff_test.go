package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/medscribe/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8080"},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"}},
		Transcript: config.TranscriptConfig{
			Corrections: map[string]string{"sob": "shortness of breath"},
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.CorrectionsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_CorrectionsChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"entry added", func(c *config.Config) { c.Transcript.Corrections["cp"] = "chest pain" }},
		{"entry changed", func(c *config.Config) { c.Transcript.Corrections["sob"] = "short of breath" }},
		{"unicode toggled", func(c *config.Config) { c.Transcript.UnicodeNormalize = true }},
		{"phonetic enabled", func(c *config.Config) { c.Transcript.Phonetic.Enabled = true }},
		{"vocabulary changed", func(c *config.Config) { c.Transcript.Phonetic.Vocabulary = []string{"angina"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)
			d := config.Diff(baseConfig(), new)
			if !d.CorrectionsChanged {
				t.Error("expected CorrectionsChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Providers.LLM.Model = "gpt-4o-mini"
	new.Store.Driver = config.StoreSQLite
	off := false
	new.Analysis.Persist = &off

	d := config.Diff(old, new)
	want := []string{"server", "providers", "store", "analysis"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.CorrectionsChanged {
		t.Errorf("unexpected hot-reload flags: %+v", d)
	}
}
