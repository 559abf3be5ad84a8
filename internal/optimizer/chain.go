package optimizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/types"
)

// ChainTranslator decorates a [translate.Provider] with two-hop translation
// through an intermediate language for configured pairs, e.g. ja -> en -> de
// when no direct ja -> de engine quality is available.
//
// Every chained translation feeds the dictionary three mappings: source to
// intermediate, intermediate to target, and source to target. The final unit
// carries [types.ProvenanceChain] and a confidence that is the product of the
// two hops.
//
// Pairs without a configured intermediate pass straight through to the
// wrapped provider.
type ChainTranslator struct {
	next translate.Provider
	dict *store.Dictionary

	// intermediates maps store.PairKey(src, dst) to the intermediate
	// language code.
	intermediates map[string]string
}

// NewChainTranslator wraps next. intermediates maps language pairs (keyed by
// [store.PairKey]) to the intermediate language to route through. dict may be
// nil, in which case hop results are not learned here.
func NewChainTranslator(next translate.Provider, dict *store.Dictionary, intermediates map[string]string) *ChainTranslator {
	norm := make(map[string]string, len(intermediates))
	for pair, mid := range intermediates {
		norm[strings.ToLower(pair)] = strings.ToLower(mid)
	}
	return &ChainTranslator{next: next, dict: dict, intermediates: norm}
}

// Translate implements [translate.Provider].
func (c *ChainTranslator) Translate(ctx context.Context, text, srcLang, dstLang string) (types.TranslationUnit, error) {
	mid, ok := c.intermediates[store.PairKey(srcLang, dstLang)]
	if !ok || mid == srcLang || mid == dstLang {
		return c.next.Translate(ctx, text, srcLang, dstLang)
	}

	first, err := c.next.Translate(ctx, text, srcLang, mid)
	if err != nil {
		return types.TranslationUnit{}, fmt.Errorf("chain %s->%s hop %s->%s: %w", srcLang, dstLang, srcLang, mid, err)
	}
	second, err := c.next.Translate(ctx, first.Translated, mid, dstLang)
	if err != nil {
		return types.TranslationUnit{}, fmt.Errorf("chain %s->%s hop %s->%s: %w", srcLang, dstLang, mid, dstLang, err)
	}

	unit := types.TranslationUnit{
		Source:     text,
		SourceLang: srcLang,
		TargetLang: dstLang,
		Translated: second.Translated,
		Confidence: first.Confidence * second.Confidence,
		Provenance: types.ProvenanceChain,
	}

	if c.dict != nil {
		c.dict.Learn(ctx, first)
		c.dict.Learn(ctx, second)
		c.dict.Learn(ctx, unit)
	}
	return unit, nil
}

// Close implements [translate.Provider].
func (c *ChainTranslator) Close() error { return c.next.Close() }
