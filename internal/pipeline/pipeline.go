// Package pipeline contains the orchestrator: the state machine and tick
// loop that drive capture, recognition, and translation, and emit whole
// frames to the renderer.
//
// One goroutine owns the tick loop. Each tick flows through the stage
// optimizer chains (capture, OCR, translation); translation work for the
// surviving text blocks is dispatched to the scheduler pool and the frame is
// emitted only once every block has an answer, so a frame never renders
// half-translated. Frames may complete out of order under load; the renderer
// is latest-wins.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/internal/optimizer"
	"github.com/lenslate/lenslate/internal/plugin"
	"github.com/lenslate/lenslate/internal/scheduler"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/render"
	"github.com/lenslate/lenslate/pkg/types"
)

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Orchestrator defaults.
const (
	DefaultTickInterval = 250 * time.Millisecond
	DefaultDrainTimeout = 5 * time.Second
)

// Config is one immutable pipeline configuration snapshot. Reload swaps the
// active snapshot atomically; a snapshot is never mutated in place.
type Config struct {
	// Region is the screen area to capture and translate.
	Region types.Region

	// SourceLang and TargetLang are ISO 639-1 codes.
	SourceLang string
	TargetLang string

	// Priority tags this region's translation work for the scheduler.
	// Defaults to [types.PriorityVisible].
	Priority types.Priority

	// TickInterval is the capture cadence. Default [DefaultTickInterval].
	TickInterval time.Duration

	// DrainTimeout bounds how long Stop waits for in-flight work.
	// Default [DefaultDrainTimeout].
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Priority == 0 {
		c.Priority = types.PriorityVisible
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Deps bundles the orchestrator's collaborators. Capture, OCR, Translator,
// Pool, and Renderer are required.
type Deps struct {
	Capture    capture.Provider
	OCR        ocr.Provider
	Translator translate.Provider

	// Pool dispatches translation work. Several orchestrators may share one
	// pool; its lifecycle belongs to the caller, the orchestrator only
	// submits to it.
	Pool     *scheduler.Pool
	Renderer render.Renderer

	// Cache and Dictionary are the orchestrator-owned stores handed to
	// optimizers. Either may be nil.
	Cache      *store.Cache
	Dictionary *store.Dictionary

	// Plugins supplies the active optimizer set. When nil the built-in
	// defaults are installed on every stage.
	Plugins *plugin.Registry

	// CaptureState, when non-nil, reports the capture subsystem's state for
	// Status (wired to the subprocess supervisor).
	CaptureState func() string

	// Metrics may be nil; no metrics are recorded then.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Status is the pipeline status query result: the state machine state plus
// per-subsystem health.
type Status struct {
	State      string            `json:"state"`
	Subsystems map[string]string `json:"subsystems"`
}

// chainSet is the per-stage optimizer chains built from one plugin snapshot.
type chainSet struct {
	capture     *optimizer.Chain
	ocr         *optimizer.Chain
	translation *optimizer.Chain
}

// Orchestrator drives the pipeline. Create with [New], then Start, Reload,
// Status, and Stop. Safe for concurrent use; the tick loop runs on its own
// goroutine.
type Orchestrator struct {
	deps    Deps
	logger  *slog.Logger
	metrics *observe.Metrics

	cfg    atomic.Pointer[Config]
	chains atomic.Pointer[chainSet]

	mu       sync.Mutex // guards state transitions and loop lifecycle
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}

	// lastUnits is the previous tick's emitted output, reused on frame skip.
	lastMu    sync.Mutex
	lastUnits []types.TranslationUnit
}

// New creates an orchestrator with the given initial snapshot.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Capture == nil:
		return nil, errors.New("pipeline: capture provider is required")
	case deps.OCR == nil:
		return nil, errors.New("pipeline: ocr provider is required")
	case deps.Translator == nil:
		return nil, errors.New("pipeline: translator is required")
	case deps.Pool == nil:
		return nil, errors.New("pipeline: scheduler pool is required")
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	o := &Orchestrator{
		deps:    deps,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		state:   StateIdle,
	}
	snapshot := cfg.withDefaults()
	o.cfg.Store(&snapshot)
	o.chains.Store(o.buildChains())
	return o, nil
}

// Start transitions Idle -> Starting -> Running and launches the tick loop.
// ctx bounds the pipeline's lifetime; Stop is still required for an orderly
// drain.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return fmt.Errorf("pipeline: cannot start from state %s", o.state)
	}
	o.setStateLocked(StateStarting)

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.loopDone = make(chan struct{})

	o.setStateLocked(StateRunning)
	go o.loop(runCtx)

	o.logger.Info("pipeline started",
		"source", o.cfg.Load().SourceLang, "target", o.cfg.Load().TargetLang)
	return nil
}

// Stop transitions to Stopping, cancels outstanding work, drains the tick
// loop within the drain timeout, flushes the dictionary, and settles in Idle.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StateDegraded {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateStopping)
	cancel := o.cancel
	loopDone := o.loopDone
	o.mu.Unlock()

	cancel()

	timeout := o.cfg.Load().DrainTimeout
	select {
	case <-loopDone:
	case <-time.After(timeout):
		o.logger.Warn("drain timeout exceeded, abandoning in-flight work", "timeout", timeout)
	}

	if o.deps.Dictionary != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.deps.Dictionary.Flush(flushCtx); err != nil {
			o.logger.Error("dictionary flush on stop failed", "err", err)
		}
		cancelFlush()
	}

	o.mu.Lock()
	o.setStateLocked(StateIdle)
	o.mu.Unlock()
	o.logger.Info("pipeline stopped")
	return nil
}

// Reload swaps in a new immutable config snapshot and rebuilds the optimizer
// chains from the current plugin registry snapshot. Takes effect on the next
// tick.
func (o *Orchestrator) Reload(cfg Config) {
	snapshot := cfg.withDefaults()
	o.cfg.Store(&snapshot)
	o.chains.Store(o.buildChains())
	o.logger.Info("pipeline config reloaded",
		"source", snapshot.SourceLang, "target", snapshot.TargetLang)
}

// State returns the current state machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the state machine state plus per-subsystem health.
func (o *Orchestrator) Status() Status {
	subsystems := map[string]string{
		"scheduler": "running",
	}
	if o.deps.CaptureState != nil {
		subsystems["capture"] = o.deps.CaptureState()
	}
	if o.deps.Cache != nil {
		hits, misses := o.deps.Cache.Stats()
		subsystems["cache"] = fmt.Sprintf("%d entries, %d hits, %d misses",
			o.deps.Cache.Len(), hits, misses)
	}
	stats := o.deps.Pool.Stats()
	subsystems["scheduler"] = fmt.Sprintf("%d pending, %d steals, %d dropped",
		stats.Pending, stats.Steals, stats.Dropped)

	return Status{State: o.State().String(), Subsystems: subsystems}
}

// setStateLocked updates state and records the gauge. Caller holds mu.
func (o *Orchestrator) setStateLocked(next State) {
	if o.state == next {
		return
	}
	o.logger.Info("pipeline state change", "from", o.state, "to", next)
	o.state = next
	if o.metrics != nil {
		o.metrics.RecordPipelineState(context.Background(), int64(next))
	}
}

// markDegraded flips Running to Degraded when the capture circuit trips.
func (o *Orchestrator) markDegraded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		o.setStateLocked(StateDegraded)
	}
}

// markRecovered flips Degraded back to Running after a successful capture.
func (o *Orchestrator) markRecovered() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDegraded {
		o.setStateLocked(StateRunning)
	}
}

// buildChains assembles the per-stage optimizer chains from the active
// plugin snapshot, or installs the built-in defaults when no registry is
// configured.
func (o *Orchestrator) buildChains() *chainSet {
	cs := &chainSet{
		capture:     optimizer.NewChain(plugin.StageCapture, o.logger),
		ocr:         optimizer.NewChain(plugin.StageOCR, o.logger),
		translation: optimizer.NewChain(plugin.StageTranslation, o.logger),
	}
	deps := optimizer.Deps{
		Cache:      o.deps.Cache,
		Dictionary: o.deps.Dictionary,
		Metrics:    o.metrics,
		Logger:     o.logger,
	}

	if o.deps.Plugins == nil {
		o.installDefaults(cs, deps)
		return cs
	}

	set := o.deps.Plugins.Snapshot()
	for _, desc := range set.Descriptors() {
		if desc.Type != plugin.TypeOptimizer && desc.Type != plugin.TypeTextProcessor {
			continue
		}
		if !set.IsActive(desc.Name) {
			continue
		}
		opt, ok := optimizer.Build(desc.Name, deps)
		if !ok {
			o.logger.Warn("no built-in optimizer for plugin, skipping", "plugin", desc.Name)
			continue
		}
		if err := opt.Init(desc.EffectiveSettings()); err != nil {
			o.logger.Error("optimizer init failed, skipping", "plugin", desc.Name, "err", err)
			continue
		}
		switch desc.TargetStage {
		case plugin.StageCapture:
			cs.capture.Add(opt, desc.HookPoint)
		case plugin.StageOCR:
			cs.ocr.Add(opt, desc.HookPoint)
		case plugin.StageTranslation, plugin.StagePipeline:
			cs.translation.Add(opt, desc.HookPoint)
		}
	}
	return cs
}

// installDefaults wires the built-in optimizer set in its canonical order.
func (o *Orchestrator) installDefaults(cs *chainSet, deps optimizer.Deps) {
	add := func(chain *optimizer.Chain, name string, hook plugin.Hook) {
		opt, ok := optimizer.Build(name, deps)
		if !ok {
			return
		}
		if err := opt.Init(nil); err != nil {
			o.logger.Error("default optimizer init failed", "optimizer", name, "err", err)
			return
		}
		chain.Add(opt, hook)
	}
	add(cs.capture, optimizer.NameFrameSkip, plugin.HookPre)
	add(cs.ocr, optimizer.NameTextValidator, plugin.HookPost)
	add(cs.ocr, optimizer.NameTextMerger, plugin.HookPost)
	add(cs.translation, optimizer.NameTranslationCache, plugin.HookGlobal)
	add(cs.translation, optimizer.NameLearningDictionary, plugin.HookGlobal)
}
