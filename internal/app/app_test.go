package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lenslate/lenslate/internal/config"
	"github.com/lenslate/lenslate/internal/plugin"
	capturemock "github.com/lenslate/lenslate/pkg/provider/capture/mock"
	ocrmock "github.com/lenslate/lenslate/pkg/provider/ocr/mock"
	translatemock "github.com/lenslate/lenslate/pkg/provider/translate/mock"
	"github.com/lenslate/lenslate/pkg/types"
)

// ─── Test fixtures ───────────────────────────────────────────────────────────

// renderRecorder is a render.Renderer that records every emitted frame.
type renderRecorder struct {
	mu      sync.Mutex
	renders [][]types.TranslationUnit
}

func (r *renderRecorder) Render(_ string, units []types.TranslationUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]types.TranslationUnit, len(units))
	copy(cp, units)
	r.renders = append(r.renders, cp)
}

func (r *renderRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

func (r *renderRecorder) last() []types.TranslationUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.renders) == 0 {
		return nil
	}
	return r.renders[len(r.renders)-1]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			Capture: config.CaptureConfig{Name: "test-pattern"},
		},
		Regions: []config.RegionConfig{
			{
				Name: "subtitles", Width: 64, Height: 32,
				SourceLang: "en", TargetLang: "de",
				TickInterval: 10 * time.Millisecond,
			},
		},
		Pipeline:   config.PipelineConfig{DrainTimeout: time.Second},
		Cache:      config.CacheConfig{Capacity: 64, TTL: time.Minute},
		Dictionary: config.DictionaryConfig{Backend: config.BackendFile, Dir: t.TempDir()},
		Scheduler:  config.SchedulerConfig{Workers: 2, IntakeDepth: 16},
	}
}

func testProviders() *Providers {
	return &Providers{
		Capture: &capturemock.Provider{
			Frames: []types.Frame{{
				Pixels: bytes.Repeat([]byte{0x40}, 64*32*4),
				Region: types.Region{Width: 64, Height: 32},
			}},
		},
		OCR: &ocrmock.Provider{
			Blocks: []types.TextBlock{
				{Text: "Hello", Bounds: types.Bounds{Width: 40, Height: 16}, Confidence: 0.95},
			},
		},
		Translate: &translatemock.Provider{},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config, providers *Providers) (*App, *renderRecorder) {
	t.Helper()
	rec := &renderRecorder{}
	a, err := New(t.Context(), cfg, providers,
		WithRenderer(rec), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return a, rec
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ─── Construction ────────────────────────────────────────────────────────────

func TestNew_RequiresOCRProvider(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.OCR = nil
	_, err := New(t.Context(), testConfig(t), providers, WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("expected an error for missing OCR provider")
	}
}

func TestNew_RequiresTranslationProvider(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.Translate = nil
	_, err := New(t.Context(), testConfig(t), providers, WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("expected an error for missing translation provider")
	}
}

func TestNew_UnknownCaptureProvider(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Providers.Capture.Name = "holographic"
	providers := testProviders()
	providers.Capture = nil
	_, err := New(t.Context(), cfg, providers, WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("expected an error for unknown capture provider")
	}
}

func TestNew_BuiltInCaptureWhenNotInjected(t *testing.T) {
	t.Parallel()
	providers := testProviders()
	providers.Capture = nil
	a, _ := newTestApp(t, testConfig(t), providers)
	if a.capture == nil {
		t.Fatal("expected the test-pattern capture provider to be built")
	}
	if a.supervisor != nil {
		t.Fatal("no subprocess supervisor expected for an in-process provider")
	}
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

func TestHTTPEndpoints(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testConfig(t), testProviders())

	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/statusz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestStatuszReportsRegions(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testConfig(t), testProviders())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := a.regions.Start(ctx); err != nil {
		t.Fatalf("regions.Start: %v", err)
	}

	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding statusz body: %v", err)
	}
	region, ok := body["subtitles"]
	if !ok {
		t.Fatalf("statusz missing region %q: %+v", "subtitles", body)
	}
	if region.State != "running" {
		t.Errorf("region state = %q, want %q", region.State, "running")
	}
}

// ─── Run and shutdown ────────────────────────────────────────────────────────

func TestRunDrivesPipelineToRenderer(t *testing.T) {
	t.Parallel()
	a, rec := newTestApp(t, testConfig(t), testProviders())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return rec.count() > 0 })

	units := rec.last()
	if len(units) != 1 {
		t.Fatalf("rendered units = %d, want 1", len(units))
	}
	if got, want := units[0].Translated, "[de]Hello"; got != want {
		t.Errorf("Translated = %q, want %q", got, want)
	}
	if got, want := units[0].TargetLang, "de"; got != want {
		t.Errorf("TargetLang = %q, want %q", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplyConfigReconcilesRegions(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a, _ := newTestApp(t, cfg, testProviders())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := a.regions.Start(ctx); err != nil {
		t.Fatalf("regions.Start: %v", err)
	}
	if got := a.regions.Len(); got != 1 {
		t.Fatalf("regions = %d, want 1", got)
	}

	grown := *cfg
	grown.Regions = append([]config.RegionConfig{}, cfg.Regions...)
	grown.Regions = append(grown.Regions, config.RegionConfig{
		Name: "menu", X: 100, Width: 32, Height: 32,
		SourceLang: "en", TargetLang: "ja",
		TickInterval: 10 * time.Millisecond,
	})
	a.ApplyConfig(cfg, &grown)
	if got := a.regions.Len(); got != 2 {
		t.Fatalf("regions after add = %d, want 2", got)
	}

	a.ApplyConfig(&grown, cfg)
	if got := a.regions.Len(); got != 1 {
		t.Fatalf("regions after remove = %d, want 1", got)
	}
}

func TestApplyConfigFlipsPluginMasterSwitch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeManifest := func(name, content string) {
		t.Helper()
		pdir := filepath.Join(dir, name)
		if err := os.MkdirAll(pdir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(pdir, plugin.DescriptorFileName), []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	writeManifest("ocr", `
name: tesseract-ocr
version: "1.0"
type: ocr
target_stage: ocr
hook: global
essential: true
enabled: true
`)
	writeManifest("cache", `
name: translation-cache
version: "1.0"
type: optimizer
target_stage: translation
hook: global
can_disable: true
enabled: true
`)

	cfg := testConfig(t)
	cfg.Plugins = config.PluginsConfig{Enabled: true, Dir: dir}
	a, _ := newTestApp(t, cfg, testProviders())

	if !a.plugins.Snapshot().IsActive("translation-cache") {
		t.Fatal("optional plugin should start active with the default master switch")
	}

	off := false
	flipped := *cfg
	flipped.Plugins.MasterSwitch = &off
	a.ApplyConfig(cfg, &flipped)

	set := a.plugins.Snapshot()
	if set.IsActive("translation-cache") {
		t.Error("optional plugin must be inactive after master_switch: false")
	}
	if !set.IsActive("tesseract-ocr") {
		t.Error("essential plugin must stay active regardless of the master switch")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testConfig(t), testProviders())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
