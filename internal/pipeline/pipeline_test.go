package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lenslate/lenslate/internal/scheduler"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/internal/subproc"
	capturemock "github.com/lenslate/lenslate/pkg/provider/capture/mock"
	ocrmock "github.com/lenslate/lenslate/pkg/provider/ocr/mock"
	translatemock "github.com/lenslate/lenslate/pkg/provider/translate/mock"
	"github.com/lenslate/lenslate/pkg/types"
)

// recordingRenderer captures every emitted frame for assertions.
type recordingRenderer struct {
	mu    sync.Mutex
	calls []renderCall
}

type renderCall struct {
	frameID string
	units   []types.TranslationUnit
}

func (r *recordingRenderer) Render(frameID string, units []types.TranslationUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, renderCall{
		frameID: frameID,
		units:   append([]types.TranslationUnit(nil), units...),
	})
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingRenderer) last() (renderCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return renderCall{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// testRig bundles an orchestrator with its mock collaborators. The rig owns
// the scheduler pool, mirroring the app wiring.
type testRig struct {
	orch     *Orchestrator
	capture  *capturemock.Provider
	ocr      *ocrmock.Provider
	engine   *translatemock.Provider
	renderer *recordingRenderer
	cache    *store.Cache
	dict     *store.Dictionary
	ctx      context.Context
	pool     *scheduler.Pool
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	dict, err := store.NewDictionary(store.DictionaryConfig{Backend: backend})
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}

	rig := &testRig{
		capture:  &capturemock.Provider{Frames: []types.Frame{testFrame(40)}},
		ocr:      &ocrmock.Provider{},
		engine:   &translatemock.Provider{},
		renderer: &recordingRenderer{},
		cache:    store.NewCache(64, time.Minute),
		dict:     dict,
	}

	rig.pool = scheduler.NewPool(scheduler.PoolConfig{Workers: 2, IntakeDepth: 16})
	ctx, cancel := context.WithCancel(context.Background())
	rig.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = rig.pool.Wait()
	})
	rig.ctx = ctx

	orch, err := New(Config{
		Region:     types.Region{Width: 64, Height: 64},
		SourceLang: "en",
		TargetLang: "de",
	}, Deps{
		Capture:    rig.capture,
		OCR:        rig.ocr,
		Translator: rig.engine,
		Pool:       rig.pool,
		Renderer:   rig.renderer,
		Cache:      rig.cache,
		Dictionary: dict,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.orch = orch
	return rig
}

func testFrame(fill byte) types.Frame {
	region := types.Region{Width: 64, Height: 64}
	return types.Frame{
		Pixels: bytes.Repeat([]byte{fill}, region.Width*region.Height*4),
		Region: region,
	}
}

// tick drives one frame through the pipeline with the orchestrator treated
// as running.
func (rig *testRig) tick() {
	rig.orch.mu.Lock()
	if rig.orch.state == StateIdle {
		rig.orch.state = StateRunning
	}
	rig.orch.mu.Unlock()
	rig.orch.tick(rig.ctx)
}

func TestEndToEndHelloWorld(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.Blocks = []types.TextBlock{
		{Text: "Hello", Bounds: types.Bounds{X: 0, Y: 0, Width: 50, Height: 20}, Confidence: 0.95},
		{Text: "World", Bounds: types.Bounds{X: 56, Y: 2, Width: 50, Height: 18}, Confidence: 0.95},
	}

	rig.tick()

	call, ok := rig.renderer.last()
	if !ok {
		t.Fatal("nothing rendered")
	}
	if len(call.units) != 1 {
		t.Fatalf("units = %d, want merged single unit: %+v", len(call.units), call.units)
	}
	unit := call.units[0]
	if unit.Source != "Hello World" {
		t.Errorf("source = %q, want merged %q", unit.Source, "Hello World")
	}
	if unit.Translated != "[de]Hello World" {
		t.Errorf("translated = %q", unit.Translated)
	}
	if unit.Provenance != types.ProvenanceEngine {
		t.Errorf("provenance = %q, want engine", unit.Provenance)
	}
	if rig.engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1", rig.engine.CallCount())
	}

	// Stores are populated for the next request.
	if _, ok := rig.cache.Get("Hello World", "en", "de"); !ok {
		t.Error("cache not populated")
	}
	if !rig.dict.Contains(rig.ctx, "Hello World", "en", "de") {
		t.Error("dictionary not populated")
	}
}

func TestSecondTickServedEntirelyFromCache(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.Blocks = []types.TextBlock{
		{Text: "Hello", Bounds: types.Bounds{X: 0, Y: 0, Width: 50, Height: 20}, Confidence: 0.95},
	}

	rig.tick()
	first, _ := rig.renderer.last()

	rig.tick()
	second, ok := rig.renderer.last()
	if !ok || rig.renderer.count() != 2 {
		t.Fatal("second tick did not render")
	}

	if rig.engine.CallCount() != 1 {
		t.Errorf("engine calls = %d, want 1 (second tick from cache)", rig.engine.CallCount())
	}
	if first.units[0].Translated != second.units[0].Translated {
		t.Errorf("translations differ: %q vs %q",
			first.units[0].Translated, second.units[0].Translated)
	}
	if second.units[0].Provenance != types.ProvenanceCache {
		t.Errorf("second provenance = %q, want cache", second.units[0].Provenance)
	}
}

func TestFrameSkipReusesPreviousOutput(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.Blocks = []types.TextBlock{
		{Text: "Static text", Bounds: types.Bounds{Width: 80, Height: 20}, Confidence: 0.95},
	}

	// Identical frames every tick. With the default min run length of 3 the
	// fourth tick is the first skip.
	for i := 0; i < 4; i++ {
		rig.tick()
	}

	if got := rig.ocr.RecognizeCount(); got != 3 {
		t.Errorf("ocr calls = %d, want 3 (fourth tick skipped)", got)
	}
	if got := rig.renderer.count(); got != 4 {
		t.Fatalf("rendered frames = %d, want 4 (skip re-emits)", got)
	}
	call, _ := rig.renderer.last()
	if len(call.units) != 1 || !strings.Contains(call.units[0].Source, "Static text") {
		t.Errorf("skip re-emit units = %+v", call.units)
	}
}

func TestOCRFailureDropsTick(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.RecognizeErr = errors.New("tesseract crashed")

	rig.tick()

	if rig.renderer.count() != 0 {
		t.Error("rendered despite OCR failure")
	}
	if rig.engine.CallCount() != 0 {
		t.Error("engine called despite OCR failure")
	}
}

func TestTranslationFailureFallsBackToSource(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.Blocks = []types.TextBlock{
		{Text: "Bonjour le monde", Bounds: types.Bounds{Width: 90, Height: 20}, Confidence: 0.95},
	}
	rig.engine.TranslateErr = errors.New("quota exceeded")

	rig.tick()

	call, ok := rig.renderer.last()
	if !ok || len(call.units) != 1 {
		t.Fatalf("units = %+v", call.units)
	}
	unit := call.units[0]
	if unit.Translated != "Bonjour le monde" {
		t.Errorf("fallback text = %q, want untranslated source", unit.Translated)
	}
	if unit.Provenance != types.ProvenanceFallback {
		t.Errorf("provenance = %q, want fallback", unit.Provenance)
	}
	// A fallback is never learned or cached.
	if rig.cache.Len() != 0 {
		t.Error("fallback was cached")
	}
	if rig.dict.Len(rig.ctx, "en", "de") != 0 {
		t.Error("fallback was learned")
	}
}

func TestStateMachineLifecycle(t *testing.T) {
	rig := newTestRig(t)

	if got := rig.orch.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	if err := rig.orch.Start(rig.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := rig.orch.State(); got != StateRunning {
		t.Errorf("state after Start = %s, want running", got)
	}
	if err := rig.orch.Start(rig.ctx); err == nil {
		t.Error("second Start succeeded")
	}
	if err := rig.orch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := rig.orch.State(); got != StateIdle {
		t.Errorf("state after Stop = %s, want idle", got)
	}
	// Stop is idempotent.
	if err := rig.orch.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestDegradedAndRecovery(t *testing.T) {
	rig := newTestRig(t)

	rig.capture.CaptureErr = subproc.ErrDegraded
	rig.tick()
	if got := rig.orch.State(); got != StateDegraded {
		t.Fatalf("state = %s, want degraded after capture circuit tripped", got)
	}

	// The loop keeps ticking; a working capture recovers the pipeline.
	rig.capture.CaptureErr = nil
	rig.tick()
	if got := rig.orch.State(); got != StateRunning {
		t.Errorf("state = %s, want running after recovery", got)
	}
}

func TestReloadTakesEffectNextTick(t *testing.T) {
	rig := newTestRig(t)
	rig.ocr.Blocks = []types.TextBlock{
		{Text: "Hello", Bounds: types.Bounds{Width: 40, Height: 20}, Confidence: 0.95},
	}

	rig.tick()
	rig.orch.Reload(Config{
		Region:     types.Region{Width: 64, Height: 64},
		SourceLang: "en",
		TargetLang: "ja",
	})
	rig.tick()

	call, _ := rig.renderer.last()
	if len(call.units) != 1 || call.units[0].TargetLang != "ja" {
		t.Errorf("units after reload = %+v, want target ja", call.units)
	}
	if rig.engine.CallCount() != 2 {
		t.Errorf("engine calls = %d, want 2 (new pair misses the cache)", rig.engine.CallCount())
	}
}

func TestStatusReportsSubsystems(t *testing.T) {
	rig := newTestRig(t)
	rig.orch.deps.CaptureState = func() string { return "running" }

	status := rig.orch.Status()
	if status.State != "idle" {
		t.Errorf("state = %q, want idle", status.State)
	}
	if status.Subsystems["capture"] != "running" {
		t.Errorf("capture subsystem = %q", status.Subsystems["capture"])
	}
	if _, ok := status.Subsystems["scheduler"]; !ok {
		t.Error("scheduler subsystem missing")
	}
}
