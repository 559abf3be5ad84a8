// Package mock provides test doubles for the translate package interfaces.
//
// Provider translates by table lookup: Responses maps "src|srcLang|dstLang" to
// the translated text. Missing keys fall back to a reversible marker form so
// tests can assert on output without scripting every phrase.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lenslate/lenslate/pkg/provider/translate"
	"github.com/lenslate/lenslate/pkg/types"
)

// Compile-time interface assertion.
var _ translate.Provider = (*Provider)(nil)

// Call records a single invocation of Provider.Translate.
type Call struct {
	Text    string
	SrcLang string
	DstLang string
}

// Key builds the Responses lookup key for a text/language-pair combination.
func Key(text, srcLang, dstLang string) string {
	return text + "|" + srcLang + "|" + dstLang
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses maps Key(text, src, dst) to the translated text. When a key
	// is missing, Translate returns "[dst]text" so output stays predictable.
	Responses map[string]string

	// Confidence is reported on every returned unit. Defaults to 0.9 when zero.
	Confidence float64

	// TranslateErr, if non-nil, is returned as the error from Translate.
	TranslateErr error

	// Calls records every Translate invocation in order.
	Calls []Call

	// Closed reports whether Close has been called.
	Closed bool
}

// Translate records the call and returns the scripted translation.
func (p *Provider) Translate(_ context.Context, text, srcLang, dstLang string) (types.TranslationUnit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Text: text, SrcLang: srcLang, DstLang: dstLang})
	if p.TranslateErr != nil {
		return types.TranslationUnit{}, p.TranslateErr
	}

	translated, ok := p.Responses[Key(text, srcLang, dstLang)]
	if !ok {
		translated = fmt.Sprintf("[%s]%s", dstLang, text)
	}
	conf := p.Confidence
	if conf == 0 {
		conf = 0.9
	}
	return types.TranslationUnit{
		Source:     text,
		SourceLang: srcLang,
		TargetLang: dstLang,
		Translated: translated,
		Confidence: conf,
		Provenance: types.ProvenanceEngine,
	}, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// CallCount returns how many times Translate was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
