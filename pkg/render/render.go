// Package render defines the renderer collaborator contract and two concrete
// renderers: a structured-log renderer for headless operation and debugging,
// and a WebSocket broadcaster that feeds out-of-process overlay UIs.
//
// Render is fire-and-forget: implementations must return quickly and must
// never block the orchestrator's tick loop. Renderer failures are the
// renderer's problem — the contract has no error return, so implementations
// log and move on.
//
// The orchestrator emits whole frames only (all translations for a frame at
// once) and frames may complete out of order under load. The renderer is the
// sole arbiter of what is shown: it displays the most recently completed
// frame, not the oldest queued one.
package render

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lenslate/lenslate/pkg/types"
)

// Renderer receives completed frame translations for display.
type Renderer interface {
	// Render delivers all translation units derived from one frame.
	// Implementations must not block and must be safe for concurrent use.
	Render(frameID string, units []types.TranslationUnit)
}

// LogRenderer writes each completed frame to slog at debug level.
// Useful for headless runs and as a safe default when no overlay client is
// configured.
type LogRenderer struct {
	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Render implements Renderer.
func (r *LogRenderer) Render(frameID string, units []types.TranslationUnit) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, u := range units {
		logger.Debug("render",
			"frame_id", frameID,
			"source", u.Source,
			"translated", u.Translated,
			"provenance", u.Provenance,
		)
	}
}

// LatestFrame tracks the most recently completed frame by completion order.
// Embed or wrap it to implement latest-wins display semantics.
type LatestFrame struct {
	mu      sync.Mutex
	frameID string
	units   []types.TranslationUnit
	at      time.Time
}

// Set records frame frameID as the latest completed frame.
func (l *LatestFrame) Set(frameID string, units []types.TranslationUnit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frameID = frameID
	l.units = append([]types.TranslationUnit(nil), units...)
	l.at = time.Now()
}

// Get returns the latest completed frame and when it completed. The returned
// slice is a copy.
func (l *LatestFrame) Get() (frameID string, units []types.TranslationUnit, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameID, append([]types.TranslationUnit(nil), l.units...), l.at
}
