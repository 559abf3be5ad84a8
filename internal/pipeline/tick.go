package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lenslate/lenslate/internal/optimizer"
	"github.com/lenslate/lenslate/internal/scheduler"
	"github.com/lenslate/lenslate/internal/subproc"
	"github.com/lenslate/lenslate/pkg/types"
)

// loop is the single tick-owning goroutine. It reads the config snapshot on
// every tick so Reload takes effect without restarting.
func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)

	interval := o.cfg.Load().TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
			if next := o.cfg.Load().TickInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick processes one frame end to end: capture, capture chain, OCR, OCR
// chain, scheduled translation, translation chain, whole-frame emit.
func (o *Orchestrator) tick(ctx context.Context) {
	cfg := o.cfg.Load()
	chains := o.chains.Load()
	tickStart := time.Now()

	frame, ok := o.captureFrame(ctx, cfg)
	if !ok {
		return
	}

	data := optimizer.Data{
		Frame:      &frame,
		SourceLang: cfg.SourceLang,
		TargetLang: cfg.TargetLang,
	}
	data = chains.capture.RunPre(ctx, data)
	data = chains.capture.RunPost(ctx, data)

	if data.Skip {
		// Unchanged frame: reuse the previous tick's output.
		if o.metrics != nil {
			o.metrics.FramesSkipped.Add(ctx, 1)
		}
		o.lastMu.Lock()
		units := o.lastUnits
		o.lastMu.Unlock()
		if units != nil {
			o.deps.Renderer.Render(frame.ID, units)
		}
		return
	}

	blocks, ok := o.recognize(ctx, frame)
	if !ok {
		// OCR failure drops this tick's blocks only.
		return
	}
	data.Blocks = blocks
	data = chains.ocr.RunPre(ctx, data)
	data = chains.ocr.RunPost(ctx, data)

	// Pre-translation hooks satisfy blocks from cache and dictionary.
	data = chains.translation.RunPre(ctx, data)

	if len(data.Blocks) > 0 {
		units, ok := o.translateBlocks(ctx, cfg, frame.ID, data)
		if !ok {
			return
		}
		data.Units = append(data.Units, units...)
	}
	data = chains.translation.RunPost(ctx, data)

	// Whole-frame emit: every block has an answer before anything renders.
	o.deps.Renderer.Render(frame.ID, data.Units)
	o.lastMu.Lock()
	o.lastUnits = data.Units
	o.lastMu.Unlock()

	if o.metrics != nil {
		o.metrics.TickDuration.Record(ctx, time.Since(tickStart).Seconds())
	}
}

// captureFrame grabs one frame, tracking capture latency and the
// degraded/recovered transitions of the capture subsystem.
func (o *Orchestrator) captureFrame(ctx context.Context, cfg *Config) (types.Frame, bool) {
	start := time.Now()
	frame, err := o.deps.Capture.Capture(ctx, cfg.Region)
	if o.metrics != nil {
		o.metrics.CaptureDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordEngineError(ctx, "capture", "")
		}
		if errors.Is(err, subproc.ErrDegraded) {
			o.markDegraded()
		}
		if ctx.Err() == nil {
			o.logger.Error("capture failed", "err", err)
		}
		return types.Frame{}, false
	}
	o.markRecovered()
	return frame, true
}

// recognize runs OCR on the frame.
func (o *Orchestrator) recognize(ctx context.Context, frame types.Frame) ([]types.TextBlock, bool) {
	start := time.Now()
	blocks, err := o.deps.OCR.Recognize(ctx, frame)
	if o.metrics != nil {
		o.metrics.OCRDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordEngineError(ctx, "ocr", "")
		}
		o.logger.Error("ocr failed, dropping frame's text blocks", "frame", frame.ID, "err", err)
		return nil, false
	}
	return blocks, true
}

// translateBlocks dispatches one WorkItem per block to the scheduler and
// blocks until all have answered. A translation failure falls back to the
// untranslated source text tagged with fallback provenance. If the intake
// queue rejects a block the whole frame is dropped to keep latency bounded.
func (o *Orchestrator) translateBlocks(ctx context.Context, cfg *Config, frameID string, data optimizer.Data) ([]types.TranslationUnit, bool) {
	results := make([]types.TranslationUnit, len(data.Blocks))
	var wg sync.WaitGroup

	accepted := 0
	for i, block := range data.Blocks {
		wg.Add(1)
		idx, blk := i, block
		item := scheduler.WorkItem{
			ID:       fmt.Sprintf("%s-%d", frameID, idx),
			Priority: cfg.Priority,
			Run: func(runCtx context.Context) {
				defer wg.Done()
				results[idx] = o.translateOne(runCtx, data.SourceLang, data.TargetLang, blk)
			},
		}
		if !o.deps.Pool.Submit(item) {
			wg.Done()
			if o.metrics != nil {
				o.metrics.FramesDropped.Add(ctx, 1)
			}
			o.logger.Warn("scheduler intake full, dropping frame", "frame", frameID)
			// Wait out what was already accepted, then drop the frame.
			o.await(ctx, &wg, accepted)
			return nil, false
		}
		accepted++
	}

	if !o.await(ctx, &wg, accepted) {
		return nil, false
	}
	return results, true
}

// translateOne runs one engine call with the fallback-on-error contract.
func (o *Orchestrator) translateOne(ctx context.Context, srcLang, dstLang string, block types.TextBlock) types.TranslationUnit {
	start := time.Now()
	unit, err := o.deps.Translator.Translate(ctx, block.Text, srcLang, dstLang)
	if o.metrics != nil {
		o.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordEngineError(ctx, "translation", block.Engine)
		}
		if ctx.Err() == nil {
			o.logger.Error("translation failed, falling back to source text",
				"text", block.Text, "err", err)
		}
		return types.TranslationUnit{
			Source:     block.Text,
			SourceLang: srcLang,
			TargetLang: dstLang,
			Translated: block.Text,
			Confidence: 0,
			Bounds:     block.Bounds,
			Provenance: types.ProvenanceFallback,
		}
	}
	unit.Bounds = block.Bounds
	return unit
}

// await blocks until the accepted work items finish or ctx is cancelled.
func (o *Orchestrator) await(ctx context.Context, wg *sync.WaitGroup, accepted int) bool {
	if accepted == 0 {
		return ctx.Err() == nil
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
