// Package app wires all medscribe subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithTelemetry). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/medscribe/internal/analysis"
	"github.com/MrWong99/medscribe/internal/api"
	"github.com/MrWong99/medscribe/internal/config"
	"github.com/MrWong99/medscribe/internal/health"
	"github.com/MrWong99/medscribe/internal/mcp"
	"github.com/MrWong99/medscribe/internal/observe"
	"github.com/MrWong99/medscribe/internal/resilience"
	"github.com/MrWong99/medscribe/internal/transcript"
	"github.com/MrWong99/medscribe/internal/transcript/phonetic"
	"github.com/MrWong99/medscribe/pkg/provider/embeddings"
	"github.com/MrWong99/medscribe/pkg/provider/llm"
	"github.com/MrWong99/medscribe/pkg/provider/stt"
	"github.com/MrWong99/medscribe/pkg/store"
	"github.com/MrWong99/medscribe/pkg/store/memstore"
	"github.com/MrWong99/medscribe/pkg/store/postgres"
	"github.com/MrWong99/medscribe/pkg/store/sqlite"
)

// shutdownTimeout bounds the HTTP drain when Run's context is cancelled.
const shutdownTimeout = 15 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider

	// STTFallbacks are tried in order after STT.
	STTFallbacks []NamedSTT

	Embeddings embeddings.Provider
}

// NamedSTT is a speech-to-text backend with its configured name.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	levelVar  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	store     store.Store
	llm       *resilience.GuardedLLM
	stt       stt.Provider
	analyzer  *analysis.Analyzer
	watcher   *config.Watcher
	mux       *http.ServeMux
	server    *http.Server

	configPath string

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening one from config. The caller
// keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTelemetry injects initialised telemetry instead of creating it. The
// caller keeps ownership.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithConfigWatcher enables hot reload of the log level and transcript
// cleaner from the config file at path.
func WithConfigWatcher(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar sets the level variable the process logger reads. Reloaded
// log levels are written to it.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithVersion sets the version reported in telemetry and to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init telemetry: %w", err))
	}
	if err := a.initStore(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init store: %w", err))
	}
	a.initProviders()
	if err := a.initAnalyzer(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init analyzer: %w", err))
	}
	if err := a.initHTTP(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init http: %w", err))
	}
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, a.abort(fmt.Errorf("app: init config watcher: %w", err))
		}
		a.watcher = w
	}
	return a, nil
}

// abort runs the closers registered so far in reverse order and returns err.
func (a *App) abort(err error) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i](); cerr != nil {
			slog.Warn("closer error during init rollback", "index", i, "err", cerr)
		}
	}
	a.closers = nil
	return err
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		t, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    a.cfg.Observe.ServiceName,
			ServiceVersion: a.version,
		})
		if err != nil {
			return err
		}
		a.telemetry = t
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return t.Shutdown(sctx)
		})
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStore opens the configured backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	var (
		s   store.Store
		err error
	)
	switch sc.Driver {
	case config.StorePostgres:
		s, err = postgres.NewStore(ctx, sc.DSN, sc.EmbeddingDimensions)
	case config.StoreSQLite:
		s, err = sqlite.Open(ctx, sc.DSN)
	case config.StoreMemory, "":
		s = memstore.New()
	default:
		err = fmt.Errorf("unknown driver %q", sc.Driver)
	}
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("store opened", "driver", sc.Driver)
	return nil
}

// initProviders wraps the completion provider in a circuit breaker and
// chains STT fallbacks.
func (a *App) initProviders() {
	cb := a.cfg.Analysis.CircuitBreaker
	a.llm = resilience.NewGuardedLLM(a.providers.LLM, resilience.CircuitBreakerConfig{
		Name:          "llm:" + a.cfg.Providers.LLM.Name,
		MaxFailures:   cb.MaxFailures,
		ResetTimeout:  cb.ResetTimeout,
		HalfOpenMax:   cb.HalfOpenMax,
		OnStateChange: a.onBreakerChange,
	})

	primary := a.providers.STT
	if primary == nil || len(a.providers.STTFallbacks) == 0 {
		a.stt = primary
		return
	}
	fb := resilience.NewSTTFallback(primary, a.cfg.Providers.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: a.onBreakerChange},
	})
	for _, f := range a.providers.STTFallbacks {
		fb.AddFallback(f.Name, f.Provider)
	}
	a.stt = fb
	slog.Info("stt fallback chain", "order", fb.Names())
}

func (a *App) onBreakerChange(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
	a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
}

func (a *App) initAnalyzer() error {
	opts := []analysis.Option{
		analysis.WithCleaner(BuildCleaner(a.cfg.Transcript)),
		analysis.WithStore(a.store),
		analysis.WithPersist(a.cfg.Analysis.PersistEnabled()),
		analysis.WithMetrics(a.metrics),
		analysis.WithProviderName(a.cfg.Providers.LLM.Name),
		analysis.WithStructuredOutput(a.cfg.Analysis.StructuredOutput),
		analysis.WithTemperature(a.cfg.Analysis.Temperature),
		analysis.WithMaxTokens(a.cfg.Analysis.MaxTokens),
		analysis.WithMaxTranscriptChars(a.cfg.Analysis.MaxTranscriptChars),
	}
	if a.providers.Embeddings != nil {
		opts = append(opts, analysis.WithEmbedder(a.providers.Embeddings))
	}
	an, err := analysis.New(a.llm, opts...)
	if err != nil {
		return err
	}
	a.analyzer = an
	return nil
}

// initHTTP builds the mux with the API, health, metrics and MCP routes.
func (a *App) initHTTP() error {
	sc := a.cfg.Server
	apiOpts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithOwnerHeader(sc.OwnerHeader),
		api.WithMaxBodyBytes(sc.MaxBodyBytes),
	}
	if a.stt != nil {
		apiOpts = append(apiOpts, api.WithSTT(a.stt, a.cfg.Providers.STT.Name))
		if voc := a.cfg.Transcript.Phonetic.Vocabulary; len(voc) > 0 {
			apiOpts = append(apiOpts, api.WithTranscribeOptions(stt.Options{Keywords: stt.Keywords(voc)}))
		}
	}
	srv, err := api.New(a.analyzer, a.store, apiOpts...)
	if err != nil {
		return err
	}

	a.mux = http.NewServeMux()
	srv.Register(a.mux)

	checkers := []health.Checker{
		{Name: "store", Check: a.store.Ping},
		{Name: "llm", Optional: true, Check: func(context.Context) error {
			if a.llm.Breaker().State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		}},
	}
	health.New(checkers...).Register(a.mux)

	a.mux.Handle("GET "+a.cfg.Observe.MetricsPath, a.telemetry.Handler)

	if a.cfg.MCP.Enabled {
		ms, err := mcp.New(a.analyzer, a.version, mcp.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.mux.Handle(a.cfg.MCP.Path, ms.Handler())
	}

	a.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.mux,
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      sc.WriteTimeout,
	}
	return nil
}

// BuildCleaner constructs the transcript cleaner described by tc.
func BuildCleaner(tc config.TranscriptConfig) *transcript.Cleaner {
	opts := []transcript.Option{
		transcript.WithCorrections(tc.Corrections),
		transcript.WithUnicodeNormalization(tc.UnicodeNormalize),
	}
	if pc := tc.Phonetic; pc.Enabled {
		var popts []phonetic.Option
		if pc.Threshold > 0 {
			popts = append(popts, phonetic.WithPhoneticThreshold(pc.Threshold))
		}
		var vocab []string
		if len(pc.Vocabulary) > 0 {
			vocab = pc.Vocabulary
		}
		opts = append(opts, transcript.WithPhoneticMatcher(phonetic.New(vocab, popts...)))
		if pc.MinLength > 0 {
			opts = append(opts, transcript.WithMinPhoneticLength(pc.MinLength))
		}
	}
	return transcript.New(opts...)
}

// onConfigChange applies the hot-reloadable parts of a new config.
func (a *App) onConfigChange(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CorrectionsChanged {
		a.analyzer.SetCleaner(BuildCleaner(next.Transcript))
		slog.Info("transcript cleaner reloaded", "corrections", len(next.Transcript.Corrections))
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.mux }

// Analyzer returns the analysis pipeline.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and, when enabled, watches the config file. It blocks
// until ctx is cancelled or the listener fails, then drains in-flight
// requests.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
