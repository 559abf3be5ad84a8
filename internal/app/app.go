// Package app wires all Lenslate subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the server until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRenderer, WithCache, etc.) and the Providers struct. When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lenslate/lenslate/internal/config"
	"github.com/lenslate/lenslate/internal/health"
	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/internal/optimizer"
	"github.com/lenslate/lenslate/internal/plugin"
	"github.com/lenslate/lenslate/internal/scheduler"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/internal/subproc"
	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/capture/imagedir"
	"github.com/lenslate/lenslate/pkg/provider/capture/testpattern"
	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/render"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per pipeline stage. Capture may be nil
// when the config selects a built-in capture provider; OCR and Translate are
// required. Populated by main.go via the config registry.
type Providers struct {
	Capture   capture.Provider
	OCR       ocr.Provider
	Translate translate.Provider
}

// App owns all subsystem lifetimes and serves the Lenslate HTTP surface.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics

	// Subsystems, initialised in New, torn down in Shutdown.
	cache      *store.Cache
	dict       *store.Dictionary
	plugins    *plugin.Registry
	pool       *scheduler.Pool
	supervisor *subproc.Supervisor
	capture    capture.Provider
	ocr        ocr.Provider
	translator translate.Provider
	renderer   render.Renderer
	regions    *RegionManager
	health     *health.Handler
	server     *http.Server

	// poolCancel stops the worker pool; set in Run.
	poolCancel context.CancelFunc

	// captureRan flips once the capture worker reaches running, so later
	// starting transitions count as restarts.
	captureRan atomic.Bool

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger injects a logger instead of slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics injects a metrics set instead of the default one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRenderer injects a renderer instead of creating a WebSocket renderer.
func WithRenderer(r render.Renderer) Option {
	return func(a *App) { a.renderer = r }
}

// WithCache injects a translation cache instead of creating one from config.
func WithCache(c *store.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithDictionary injects a dictionary instead of creating one from config.
func WithDictionary(d *store.Dictionary) Option {
	return func(a *App) { a.dict = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Plugins ───────────────────────────────────────────────────────
	if err := a.initPlugins(); err != nil {
		return nil, fmt.Errorf("app: init plugins: %w", err)
	}

	// ── 3. Stage providers ───────────────────────────────────────────────
	if err := a.initProviders(providers); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 4. Scheduler pool ────────────────────────────────────────────────
	a.pool = scheduler.NewPool(scheduler.PoolConfig{
		Workers:     cfg.Scheduler.Workers,
		IntakeDepth: cfg.Scheduler.IntakeDepth,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})

	// ── 5. Renderer ──────────────────────────────────────────────────────
	if a.renderer == nil {
		ws := render.NewWSRenderer(a.logger)
		ws.SetClientObserver(func(delta int) {
			a.metrics.OverlayClients.Add(context.Background(), int64(delta))
		})
		a.renderer = ws
		a.closers = append(a.closers, func() error {
			ws.Close()
			return nil
		})
	}

	// ── 6. Region pipelines ──────────────────────────────────────────────
	a.regions = NewRegionManager(RegionManagerConfig{
		Regions:      cfg.Regions,
		Pipeline:     cfg.Pipeline,
		Capture:      a.capture,
		OCR:          a.ocr,
		Translator:   a.translator,
		Pool:         a.pool,
		Renderer:     a.renderer,
		Cache:        a.cache,
		Dictionary:   a.dict,
		Plugins:      a.plugins,
		CaptureState: a.captureState,
		Metrics:      a.metrics,
		Logger:       a.logger,
	})

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores sets up the translation cache and learned dictionary.
func (a *App) initStores(ctx context.Context) error {
	if a.cache == nil {
		a.cache = store.NewCache(a.cfg.Cache.Capacity, a.cfg.Cache.TTL)
	}
	if a.dict != nil {
		return nil
	}

	var backend store.Backend
	switch a.cfg.Dictionary.Backend {
	case config.BackendPostgres:
		pg, err := store.NewPostgresBackend(ctx, a.cfg.Dictionary.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres dictionary backend: %w", err)
		}
		backend = pg
	default:
		dir := a.cfg.Dictionary.Dir
		if dir == "" {
			dir = "dictionary"
		}
		fb, err := store.NewFileBackend(dir)
		if err != nil {
			return fmt.Errorf("file dictionary backend: %w", err)
		}
		backend = fb
	}

	dict, err := store.NewDictionary(store.DictionaryConfig{
		Backend:        backend,
		LearnThreshold: a.cfg.Dictionary.LearnThreshold,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.dict = dict
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return dict.Close(closeCtx)
	})
	return nil
}

// initPlugins discovers optimizer plugins when manifest loading is enabled.
func (a *App) initPlugins() error {
	if !a.cfg.Plugins.Enabled {
		return nil
	}
	reg, err := plugin.NewRegistry(a.cfg.Plugins.Dir, a.cfg.Plugins.MasterSwitchOn(), a.logger)
	if err != nil {
		return err
	}
	a.plugins = reg
	return nil
}

// initProviders resolves the three stage providers. Injected providers win;
// otherwise capture is built from config (the subprocess supervisor or a
// built-in source). OCR and translation must be injected by main.
func (a *App) initProviders(providers *Providers) error {
	if providers == nil {
		providers = &Providers{}
	}
	if providers.OCR == nil {
		return errors.New("an OCR provider is required")
	}
	if providers.Translate == nil {
		return errors.New("a translation provider is required")
	}
	a.ocr = providers.OCR
	a.closers = append(a.closers, a.ocr.Close)

	a.translator = providers.Translate
	if len(a.cfg.Pipeline.ChainLanguages) > 0 {
		a.translator = optimizer.NewChainTranslator(a.translator, a.dict, a.cfg.Pipeline.ChainLanguages)
	}
	a.closers = append(a.closers, a.translator.Close)

	if providers.Capture != nil {
		a.capture = providers.Capture
		a.closers = append(a.closers, a.capture.Close)
		return nil
	}

	entry := a.cfg.Providers.Capture
	switch entry.Name {
	case "subprocess":
		sup, err := subproc.NewSupervisor(subproc.Config{
			Name:          "capture",
			Command:       entry.Command,
			Framing:       entry.Framing,
			InitConfig:    entry.Options,
			MaxRestarts:   entry.MaxRestarts,
			RestartWindow: entry.RestartWindow,
			Logger:        a.logger,
			OnState:       a.onCaptureState,
		})
		if err != nil {
			return fmt.Errorf("capture supervisor: %w", err)
		}
		a.supervisor = sup
		a.capture = subproc.NewCaptureProvider(sup)
	case "test-pattern", "":
		a.capture = testpattern.New()
	case "image-dir":
		dir, _ := entry.Options["dir"].(string)
		p, err := imagedir.New(dir)
		if err != nil {
			return err
		}
		a.capture = p
	default:
		return fmt.Errorf("unknown capture provider %q", entry.Name)
	}
	a.closers = append(a.closers, a.capture.Close)
	return nil
}

// initHTTP assembles the HTTP mux: health and status probes, Prometheus
// metrics, and the overlay WebSocket feed.
func (a *App) initHTTP() {
	a.health = health.New(a.healthCheckers()...)
	a.health.SetStatus(func() any { return a.regions.Status() })

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if ws, ok := a.renderer.(http.Handler); ok {
		mux.Handle("GET /overlay", ws)
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// healthCheckers builds the readiness probes: the capture subsystem must not
// be degraded and the dictionary backend must accept a flush.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "capture",
			Check: func(context.Context) error {
				if a.supervisor != nil && a.supervisor.State() == subproc.StateDegraded {
					return errors.New("capture worker restart budget exhausted")
				}
				return nil
			},
		},
		{
			Name: "dictionary",
			Check: func(ctx context.Context) error {
				return a.dict.Flush(ctx)
			},
		},
	}
}

// captureState reports the capture subsystem state for region status queries.
func (a *App) captureState() string {
	if a.supervisor == nil {
		return "in-process"
	}
	return a.supervisor.State().String()
}

// onCaptureState observes capture supervisor transitions. Restarts are
// counted; region pipelines notice degradation themselves when their next
// capture call fails.
func (a *App) onCaptureState(name string, state subproc.State) {
	a.logger.Info("capture worker state change", "worker", name, "state", state)
	switch state {
	case subproc.StateRunning:
		a.captureRan.Store(true)
	case subproc.StateStarting:
		if a.captureRan.Load() {
			a.metrics.RecordSubprocRestart(context.Background(), name)
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture worker, the scheduler pool, every region pipeline,
// and the HTTP server, then blocks until ctx is cancelled. The caller is
// expected to invoke Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	if a.supervisor != nil {
		if err := a.supervisor.Start(ctx); err != nil {
			return fmt.Errorf("app: start capture worker: %w", err)
		}
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	a.poolCancel = cancel
	a.pool.Start(poolCtx)

	if err := a.regions.Start(ctx); err != nil {
		return fmt.Errorf("app: start regions: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.logger.Info("lenslate running",
		"addr", a.server.Addr,
		"regions", a.regions.Len(),
		"capture", a.captureState(),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyConfig hot-reloads the safe subset of a changed config: log level is
// handled by main, region changes and the plugin master switch are applied
// here.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.RegionsChanged {
		a.regions.Apply(new.Regions)
	}
	if diff.PluginsChanged && a.plugins != nil {
		if err := a.plugins.Reload(new.Plugins.MasterSwitchOn()); err != nil {
			a.logger.Error("plugin reload failed, keeping previous set", "err", err)
		}
	}
	if diff.ChainsChanged {
		a.logger.Warn("pipeline.chain_languages changed; restart required to apply")
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: HTTP server,
// region pipelines, capture worker, scheduler pool, then the closers. It
// respects the context deadline; remaining closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := a.server.Shutdown(drainCtx); err != nil {
			a.logger.Warn("http shutdown error", "err", err)
		}
		cancel()

		if err := a.regions.Stop(); err != nil {
			a.logger.Warn("region stop error", "err", err)
		}

		if a.supervisor != nil {
			if err := a.supervisor.Stop(); err != nil {
				a.logger.Warn("capture worker stop error", "err", err)
			}
		}

		if a.poolCancel != nil {
			a.poolCancel()
			if err := a.pool.Wait(); err != nil {
				a.logger.Warn("pool drain error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
