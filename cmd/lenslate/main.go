// Command lenslate is the main entry point for the Lenslate translation
// overlay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lenslate/lenslate/internal/app"
	"github.com/lenslate/lenslate/internal/config"
	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/capture/imagedir"
	"github.com/lenslate/lenslate/pkg/provider/capture/testpattern"
	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/provider/ocr/tesseract"
	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/provider/translate/anyllm"
	"github.com/lenslate/lenslate/pkg/provider/translate/openai"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lenslate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lenslate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lenslate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"regions", len(cfg.Regions),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if diff := config.Diff(old, new); diff.LogLevelChanged {
			slog.SetDefault(newLogger(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		application.ApplyConfig(old, new)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the capture, OCR, and translation factories
// that ship with Lenslate into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────
	// The subprocess provider is not registered here; the application builds
	// and supervises the capture worker itself so restarts feed its health
	// checks.

	reg.RegisterCapture("test-pattern", func(config.CaptureConfig) (capture.Provider, error) {
		return testpattern.New(), nil
	})

	reg.RegisterCapture("image-dir", func(entry config.CaptureConfig) (capture.Provider, error) {
		dir := optString(entry.Options, "dir")
		if dir == "" {
			return nil, fmt.Errorf("image-dir capture requires options.dir")
		}
		return imagedir.New(dir)
	})

	// ── OCR ───────────────────────────────────────────────────────────────────

	reg.RegisterOCR("tesseract", func(entry config.ProviderEntry) (ocr.Provider, error) {
		var opts []tesseract.Option
		if langs := optStrings(entry.Options, "languages"); len(langs) > 0 {
			opts = append(opts, tesseract.WithLanguages(langs...))
		}
		return tesseract.New(opts...), nil
	})

	// ── Translation ───────────────────────────────────────────────────────────

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranslate("anyllm", func(entry config.ProviderEntry) (translate.Provider, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			backend = "ollama"
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct. Capture stays nil for the
// subprocess provider; the application supervises that worker itself.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Capture.Name; name != "" && name != "subprocess" {
		p, err := reg.CreateCapture(cfg.Providers.Capture)
		if err != nil {
			return nil, fmt.Errorf("create capture provider %q: %w", name, err)
		}
		ps.Capture = p
		slog.Info("provider created", "kind", "capture", "name", name)
	}

	if name := cfg.Providers.OCR.Name; name != "" {
		p, err := reg.CreateOCR(cfg.Providers.OCR)
		if err != nil {
			return nil, fmt.Errorf("create ocr provider %q: %w", name, err)
		}
		ps.OCR = p
		slog.Info("provider created", "kind", "ocr", "name", name)
	}

	if name := cfg.Providers.Translate.Name; name != "" {
		p, err := reg.CreateTranslate(cfg.Providers.Translate)
		if err != nil {
			return nil, fmt.Errorf("create translate provider %q: %w", name, err)
		}
		ps.Translate = p
		slog.Info("provider created", "kind", "translate", "name", name, "model", cfg.Providers.Translate.Model)
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map. Returns ""
// when the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optStrings extracts a string list from a provider Options map. YAML
// sequences decode as []any, so each element is converted individually.
func optStrings(opts map[string]any, key string) []string {
	v, ok := opts[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
