package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lenslate/lenslate/internal/config"
	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/internal/pipeline"
	"github.com/lenslate/lenslate/internal/plugin"
	"github.com/lenslate/lenslate/internal/scheduler"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/render"
)

// RegionManagerConfig bundles the shared collaborators every region pipeline
// uses plus the initial region set.
type RegionManagerConfig struct {
	Regions  []config.RegionConfig
	Pipeline config.PipelineConfig

	Capture    capture.Provider
	OCR        ocr.Provider
	Translator translate.Provider
	Pool       *scheduler.Pool
	Renderer   render.Renderer
	Cache      *store.Cache
	Dictionary *store.Dictionary
	Plugins    *plugin.Registry

	CaptureState func() string
	Metrics      *observe.Metrics
	Logger       *slog.Logger
}

// RegionManager owns one pipeline orchestrator per configured screen region.
// All regions share the capture, OCR, and translation providers, the stores,
// and one scheduler pool, so cross-region priorities compete in a single
// queue. Safe for concurrent use.
type RegionManager struct {
	cfg    RegionManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	runCtx  context.Context
	orchs   map[string]*pipeline.Orchestrator
	regions map[string]config.RegionConfig
}

// NewRegionManager creates a manager for the given region set. Pipelines are
// created and started by Start.
func NewRegionManager(cfg RegionManagerConfig) *RegionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RegionManager{
		cfg:     cfg,
		logger:  cfg.Logger,
		orchs:   make(map[string]*pipeline.Orchestrator),
		regions: make(map[string]config.RegionConfig),
	}
}

// Start creates and starts one orchestrator per region. ctx bounds the
// lifetime of every pipeline, including ones added later by Apply.
func (m *RegionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCtx = ctx

	for _, rc := range m.cfg.Regions {
		if err := m.startRegionLocked(rc); err != nil {
			return err
		}
	}
	m.logger.Info("region pipelines started", "count", len(m.orchs))
	return nil
}

// Stop stops every region pipeline and reports the joined errors.
func (m *RegionManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, orch := range m.orchs {
		if err := orch.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("region %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Apply reconciles the running pipelines with a new region set: removed
// regions are stopped, added regions are started, and modified regions get a
// config reload that takes effect on their next tick.
func (m *RegionManager) Apply(regions []config.RegionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]config.RegionConfig, len(regions))
	for _, rc := range regions {
		next[rc.Name] = rc
	}

	for name, orch := range m.orchs {
		if _, ok := next[name]; ok {
			continue
		}
		m.logger.Info("region removed", "region", name)
		if err := orch.Stop(); err != nil {
			m.logger.Warn("stopping removed region failed", "region", name, "err", err)
		}
		delete(m.orchs, name)
		delete(m.regions, name)
	}

	for name, rc := range next {
		old, exists := m.regions[name]
		switch {
		case !exists:
			m.logger.Info("region added", "region", name)
			if err := m.startRegionLocked(rc); err != nil {
				m.logger.Error("starting added region failed", "region", name, "err", err)
			}
		case old != rc:
			m.logger.Info("region changed", "region", name)
			m.orchs[name].Reload(m.pipelineConfig(rc))
			m.regions[name] = rc
		}
	}
}

// Status reports every region pipeline's state and subsystem health, keyed by
// region name.
func (m *RegionManager) Status() map[string]pipeline.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]pipeline.Status, len(m.orchs))
	for name, orch := range m.orchs {
		out[name] = orch.Status()
	}
	return out
}

// Len returns the number of running region pipelines.
func (m *RegionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orchs)
}

// startRegionLocked creates and starts the orchestrator for rc. Caller holds
// mu and must have set runCtx.
func (m *RegionManager) startRegionLocked(rc config.RegionConfig) error {
	orch, err := pipeline.New(m.pipelineConfig(rc), pipeline.Deps{
		Capture:      m.cfg.Capture,
		OCR:          m.cfg.OCR,
		Translator:   m.cfg.Translator,
		Pool:         m.cfg.Pool,
		Renderer:     m.cfg.Renderer,
		Cache:        m.cfg.Cache,
		Dictionary:   m.cfg.Dictionary,
		Plugins:      m.cfg.Plugins,
		CaptureState: m.cfg.CaptureState,
		Metrics:      m.cfg.Metrics,
		Logger:       m.logger.With("region", rc.Name),
	})
	if err != nil {
		return fmt.Errorf("region %s: %w", rc.Name, err)
	}
	if err := orch.Start(m.runCtx); err != nil {
		return fmt.Errorf("region %s: %w", rc.Name, err)
	}
	m.orchs[rc.Name] = orch
	m.regions[rc.Name] = rc
	return nil
}

// pipelineConfig maps a region entry onto a pipeline snapshot, falling back
// to the pipeline-wide cadence when the region does not set its own.
func (m *RegionManager) pipelineConfig(rc config.RegionConfig) pipeline.Config {
	tick := rc.TickInterval
	if tick <= 0 {
		tick = m.cfg.Pipeline.TickInterval
	}
	return pipeline.Config{
		Region:       rc.Region(),
		SourceLang:   rc.SourceLang,
		TargetLang:   rc.TargetLang,
		Priority:     rc.Priority.Value(),
		TickInterval: tick,
		DrainTimeout: m.cfg.Pipeline.DrainTimeout,
	}
}
