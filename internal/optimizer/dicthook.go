package optimizer

import (
	"context"

	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/types"
)

// NameLearningDictionary is the plugin name of the learning dictionary
// optimizer.
const NameLearningDictionary = "learning-dictionary"

// DictionaryHook serves translations from the learned dictionary before the
// engine runs, and offers engine results to the dictionary afterwards. The
// dictionary itself decides what to keep (confidence threshold, never
// downgrading an entry). Attaches to the translation stage as a global hook,
// after the cache hook so the cache gets first refusal.
type DictionaryHook struct {
	Nop
	dict *store.Dictionary
}

// NewDictionaryHook creates a dictionary hook over dict. A nil dictionary
// turns the hook into a pass-through.
func NewDictionaryHook(dict *store.Dictionary) *DictionaryHook {
	return &DictionaryHook{dict: dict}
}

// Name implements Optimizer.
func (h *DictionaryHook) Name() string { return NameLearningDictionary }

// Pre moves every block with a learned translation from Blocks to Units.
func (h *DictionaryHook) Pre(ctx context.Context, d Data) (Data, error) {
	if h.dict == nil || len(d.Blocks) == 0 {
		return d, nil
	}
	var remaining []types.TextBlock
	for _, block := range d.Blocks {
		unit, ok := h.dict.Lookup(ctx, block.Text, d.SourceLang, d.TargetLang)
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

// Post offers engine translations to the dictionary.
func (h *DictionaryHook) Post(ctx context.Context, d Data) (Data, error) {
	if h.dict == nil {
		return d, nil
	}
	for _, unit := range d.Units {
		if unit.Provenance == types.ProvenanceEngine || unit.Provenance == types.ProvenanceChain {
			h.dict.Learn(ctx, unit)
		}
	}
	return d, nil
}
