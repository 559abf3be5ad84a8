package optimizer

import (
	"context"

	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/types"
)

// NameTranslationCache is the plugin name of the translation cache optimizer.
const NameTranslationCache = "translation-cache"

// CacheHook serves translations from the LRU cache before the engine is
// asked, and writes fresh engine results back afterwards. It attaches to the
// translation stage as a global hook.
type CacheHook struct {
	Nop
	cache   *store.Cache
	metrics *observe.Metrics
}

// NewCacheHook creates a cache hook over cache. A nil cache turns the hook
// into a pass-through; a nil metrics skips lookup accounting.
func NewCacheHook(cache *store.Cache, metrics *observe.Metrics) *CacheHook {
	return &CacheHook{cache: cache, metrics: metrics}
}

// Name implements Optimizer.
func (h *CacheHook) Name() string { return NameTranslationCache }

// Pre moves every block with a cached translation from Blocks to Units, so
// the engine only sees what the cache could not serve.
func (h *CacheHook) Pre(ctx context.Context, d Data) (Data, error) {
	if h.cache == nil || len(d.Blocks) == 0 {
		return d, nil
	}
	var remaining []types.TextBlock
	for _, block := range d.Blocks {
		unit, ok := h.cache.Get(block.Text, d.SourceLang, d.TargetLang)
		if h.metrics != nil {
			h.metrics.RecordCacheLookup(ctx, ok)
		}
		if !ok {
			remaining = append(remaining, block)
			continue
		}
		unit.Bounds = block.Bounds
		d.Units = append(d.Units, unit)
	}
	d.Blocks = remaining
	return d, nil
}

// Post writes engine-produced translations into the cache. Cache and
// dictionary hits are already tagged with their own provenance and are not
// re-cached.
func (h *CacheHook) Post(_ context.Context, d Data) (Data, error) {
	if h.cache == nil {
		return d, nil
	}
	for _, unit := range d.Units {
		if unit.Provenance == types.ProvenanceEngine || unit.Provenance == types.ProvenanceChain {
			h.cache.Put(unit)
		}
	}
	return d, nil
}
