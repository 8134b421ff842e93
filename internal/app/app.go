// Package app wires all spatialvoice subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/spatialvoice/internal/config"
	"github.com/MrWong99/spatialvoice/internal/conversation"
	"github.com/MrWong99/spatialvoice/internal/gateway"
	"github.com/MrWong99/spatialvoice/internal/health"
	"github.com/MrWong99/spatialvoice/internal/history"
	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/internal/jobs"
	"github.com/MrWong99/spatialvoice/internal/observe"
	"github.com/MrWong99/spatialvoice/internal/pipeline"
	"github.com/MrWong99/spatialvoice/internal/version"
	"github.com/MrWong99/spatialvoice/pkg/command"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
	"github.com/MrWong99/spatialvoice/pkg/provider/stt"
)

// shutdownTimeout bounds the graceful HTTP shutdown started by Run.
const shutdownTimeout = 10 * time.Second

// Providers holds the provider for each pipeline stage. Populated by main.go
// via the config registry. Both are required.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider

	// STTName and LLMName label provider metrics.
	STTName string
	LLMName string
}

// App owns all subsystem lifetimes of one spatialvoice server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics  *observe.Metrics
	store    history.Store
	registry *conversation.Registry
	hub      *hub.Hub
	jobs     *jobs.Runner
	pipeline *pipeline.Pipeline
	gateway  *gateway.Server
	handler  http.Handler
	server   *http.Server

	// level receives hot-reloaded log levels. Nil leaves logging alone.
	level *slog.LevelVar

	// baseCtx is the parent of every request context. Cancelling it ends
	// hijacked WebSocket connections, which http.Server.Shutdown ignores.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	telemetryShutdown func(context.Context) error
	addr              atomic.Pointer[string]

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a history store instead of opening one from config.
// Shutdown still closes it.
func WithStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance and skips the OpenTelemetry SDK
// setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets ApplyConfig change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Nothing listens
// until Run is called.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: STT and LLM providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	a.baseCtx, a.cancelBase = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		a.cancelBase()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.cancelBase()
		a.closeTelemetry(ctx)
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Sessions, hub, jobs ───────────────────────────────────────────
	sessionOpts := []conversation.SessionOption{
		conversation.WithMaxTokens(cfg.Providers.LLM.OptionInt("max_tokens", conversation.DefaultMaxTokens)),
		conversation.WithHistoryLimit(cfg.Assistant.HistoryLimit),
	}
	if cfg.Providers.LLM.Model != "" {
		sessionOpts = append(sessionOpts, conversation.WithModel(cfg.Providers.LLM.Model))
	}
	a.registry = conversation.NewRegistry(providers.LLM, a.store,
		conversation.WithMaxSessions(cfg.Sessions.MaxSessions),
		conversation.WithIdleTTL(cfg.Sessions.IdleTTL),
		conversation.WithSessionOptions(sessionOpts...),
	)
	a.hub = hub.New(hub.WithMetrics(a.metrics))
	a.jobs = jobs.New(
		jobs.WithAttempts(cfg.Jobs.Attempts),
		jobs.WithBaseBackoff(cfg.Jobs.BaseBackoff),
		jobs.WithMetrics(a.metrics),
	)

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	var parserOpts []command.Option
	if cfg.Assistant.PhoneticCommands {
		parserOpts = append(parserOpts, command.WithPhoneticAliases())
	}
	p, err := pipeline.New(pipeline.Deps{
		STT:      providers.STT,
		Registry: a.registry,
		Hub:      a.hub,
		Jobs:     a.jobs,
		Parser:   command.NewParser(parserOpts...),
		Metrics:  a.metrics,
	},
		pipeline.WithSuppression(pipeline.Suppression(cfg.Audio.NoiseSuppression)),
		pipeline.WithSampleRate(cfg.Audio.SampleRate),
		pipeline.WithProviderNames(providers.STTName, providers.LLMName),
	)
	if err != nil {
		a.cancelBase()
		a.closeStore()
		a.closeTelemetry(ctx)
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipeline = p

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.gateway = gateway.New(a.pipeline, a.hub,
		gateway.WithChunkBytes(cfg.Audio.ChunkBytes()),
		gateway.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		gateway.WithMetrics(a.metrics),
	)
	mux := http.NewServeMux()
	health.New(version.String(), health.Checker{Name: "store", Check: a.store.Ping}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.gateway.Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry installs the OpenTelemetry SDK and creates the instruments,
// unless metrics were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    a.cfg.Telemetry.ServiceName,
		ServiceVersion: version.String(),
		SampleRatio:    a.cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	a.telemetryShutdown = shutdown

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStore opens the configured history backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	hc := a.cfg.History
	switch hc.Backend {
	case config.HistoryBadger:
		s, err := history.OpenBadger(hc.Path, history.WithBadgerTTL(hc.TTL))
		if err != nil {
			return err
		}
		a.store = s
	case config.HistoryPostgres:
		s, err := history.NewPostgres(ctx, hc.PostgresDSN, history.WithPostgresTTL(hc.TTL))
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = history.NewMemory(history.WithMemoryTTL(hc.TTL))
	}
	slog.Info("history store ready", "backend", hc.Backend)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address Run is listening on, or "" before it listens.
func (a *App) Addr() string {
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// Pipeline returns the orchestration layer.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Hub returns the session event hub.
func (a *App) Hub() *hub.Hub { return a.hub }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled or the
// server fails. A cancelled ctx is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	addr := ln.Addr().String()
	a.addr.Store(&addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.cancelBase()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", addr, "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of d: log level, noise
// suppression mode and WebSocket origins. Everything else is logged as
// needing a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelOf(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.NoiseSuppressionChanged {
		a.pipeline.SetNoiseSuppression(pipeline.Suppression(d.NewNoiseSuppression))
		slog.Info("noise suppression changed", "mode", d.NewNoiseSuppression)
	}
	if d.AllowedOriginsChanged {
		a.gateway.SetAllowedOrigins(d.NewAllowedOrigins)
		slog.Info("allowed origins changed", "origins", d.NewAllowedOrigins)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// LevelOf maps a config log level to its slog level. Unknown values map to
// info.
func LevelOf(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the HTTP server first, then the open
// WebSocket handlers so their residual flushes reach the pipeline, then the
// job runner (waiting for in-flight jobs within ctx), the history store and
// finally telemetry. It is safe to call more than once; later calls return
// the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error

		a.cancelBase()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		if err := a.gateway.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.jobs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("jobs: %w", err))
		}
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
		if err := a.closeTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}

		if err := errors.Join(errs...); err != nil {
			a.stopErr = fmt.Errorf("app: shutdown: %w", err)
		}
		slog.Info("app stopped")
	})
	return a.stopErr
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) closeTelemetry(ctx context.Context) error {
	if a.telemetryShutdown == nil {
		return nil
	}
	return a.telemetryShutdown(ctx)
}
