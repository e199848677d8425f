// Package app wires the votevoice subsystems into a running server.
//
// [New] opens the document store, builds the election service, the device
// gateway, the admin API and the probes, and mounts them on one HTTP mux.
// [App.Run] serves until its context ends; [App.Shutdown] releases what New
// opened, in reverse order.
//
// Tests inject doubles through the functional options (WithStore,
// WithBlobs, ...). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/votevoice/internal/admin"
	"github.com/MrWong99/votevoice/internal/config"
	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/gateway"
	"github.com/MrWong99/votevoice/internal/health"
	"github.com/MrWong99/votevoice/internal/observe"
	"github.com/MrWong99/votevoice/internal/resilience"
	"github.com/MrWong99/votevoice/pkg/blob"
	"github.com/MrWong99/votevoice/pkg/store"
)

// Routes mounted by [New].
const (
	VoicePath   = "/v1/voice"
	FilesPrefix = "/files/"
)

// App owns every subsystem lifetime.
type App struct {
	cfg *config.Config

	registry       *config.Registry
	store          store.Store
	blobs          blob.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	lookupEnv      func(string) (string, bool)

	breaker *resilience.CircuitBreaker
	svc     *election.Service
	gateway *gateway.Server
	handler http.Handler
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures [New].
type Option func(*App)

// WithStore injects a document store instead of opening cfg.Store. The
// caller keeps ownership of it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces [DefaultRegistry] for opening cfg.Store.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithBlobs injects a blob store instead of the directory in cfg.Blob.
func WithBlobs(b blob.Store) Option {
	return func(a *App) { a.blobs = b }
}

// WithMetrics sets the metrics recorder. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics. Default: promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the installed
// logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithEnv replaces os.LookupEnv for the overrides re-applied on reload.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(a *App) { a.lookupEnv = lookup }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App from cfg. Nothing listens until [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, lookupEnv: os.LookupEnv}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	// ── 1. Document store ────────────────────────────────────────────────
	if a.store == nil {
		st, err := a.registry.Open(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "store",
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("app: store circuit changed", "from", from, "to", to)
		},
	})
	guarded := resilience.NewStore(a.store, a.breaker)

	// ── 2. Blob store ────────────────────────────────────────────────────
	var files http.Handler
	if a.blobs == nil {
		fs, err := blob.NewFSStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: blob store: %w", err)
		}
		a.blobs = fs
		files = http.StripPrefix(FilesPrefix, http.FileServer(http.Dir(fs.Dir())))
	}

	// ── 3. Election service ──────────────────────────────────────────────
	a.svc = election.New(guarded, a.blobs, election.Config{
		AdminEmail:       cfg.Election.AdminEmail,
		Positions:        cfg.Election.Positions,
		ReportCategories: cfg.Election.ReportCategories,
	}, election.WithMetrics(a.metrics))

	// ── 4. Device gateway ────────────────────────────────────────────────
	a.gateway = gateway.NewServer(a.svc, gatewayConfig(cfg.Dialogue),
		gateway.WithMetrics(a.metrics),
		gateway.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	a.closers = append([]func() error{func() error { a.gateway.Close(); return nil }}, a.closers...)

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle(VoicePath, a.gateway)
	mux.Handle("GET /metrics", a.metricsHandler)
	if files != nil {
		mux.Handle("GET "+FilesPrefix, files)
	}
	admin.New(a.svc, cfg.Server.AdminToken).Register(mux)
	health.New([]health.Checker{
		health.StoreCheck("store", a.store),
		health.BreakerCheck("store_circuit", a.breaker),
	}, health.WithConnections(a.gateway.Active)).Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app: initialised",
		"store", cfg.Store.Backend,
		"positions", len(cfg.Election.Positions),
		"admin_api", cfg.Server.AdminToken != "",
	)
	return a, nil
}

func gatewayConfig(d config.DialogueConfig) gateway.Config {
	return gateway.Config{
		Language:        d.Language,
		InterimResults:  d.InterimResults,
		MaxAlternatives: d.MaxAlternatives,
		MaxRetries:      d.MaxRetries,
		WriteTimeout:    d.WriteTimeout,
		MaxUploadBytes:  d.MaxUploadBytes,
	}
}

// Handler returns the instrumented mux.
func (a *App) Handler() http.Handler { return a.handler }

// Election returns the election service.
func (a *App) Election() *election.Service { return a.svc }

// Gateway returns the device gateway.
func (a *App) Gateway() *gateway.Server { return a.gateway }

// Addr returns the listening address once [App.Run] has bound it.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed config file. The environment overrides are
// re-applied to next first. The dialogue section and the log level take
// effect at once; everything else is logged as needing a restart.
func (a *App) Reload(_, next *config.Config) {
	if err := config.ApplyEnv(next, a.lookupEnv); err != nil {
		slog.Warn("app: reloaded config rejected", "err", err)
		return
	}
	changes := config.Diff(a.cfg, next)
	if changes.Empty() {
		return
	}
	if changes.Dialogue {
		a.gateway.SetConfig(gatewayConfig(next.Dialogue))
		a.cfg.Dialogue = next.Dialogue
		slog.Info("app: dialogue settings applied to new sessions",
			"language", next.Dialogue.Language,
			"max_retries", next.Dialogue.MaxRetries,
		)
	}
	if changes.LogLevel {
		if a.level != nil {
			a.level.Set(changes.NewLogLevel.Level())
		}
		a.cfg.Server.LogLevel = changes.NewLogLevel
		slog.Info("app: log level changed", "level", changes.NewLogLevel)
	}
	if len(changes.Restart) > 0 {
		slog.Warn("app: config changes need a restart", "sections", changes.Restart)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr together with the background
// tasks (such as a config watcher) until ctx ends or one of them fails.
// Open connections get cfg.Server.ShutdownTimeout to finish.
func (a *App) Run(ctx context.Context, background ...func(context.Context) error) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	slog.Info("app: listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.gateway.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	for _, fn := range background {
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the gateway and the stores New opened. Closers still
// pending when ctx expires are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		for i, c := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = ctx.Err()
				return
			}
			if cerr := c(); cerr != nil {
				slog.Warn("app: closer failed", "index", i, "err", cerr)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return err
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
