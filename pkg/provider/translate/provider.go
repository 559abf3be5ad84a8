// Package translate defines the Provider interface for translation backends.
//
// A translation provider converts one piece of source text into the target
// language and reports a confidence score. It is a thin synchronous adapter:
// caching, dictionary learning, and chain translation through intermediate
// languages are all layered on top by the optimizer chain, never inside a
// provider.
//
// Implementations must be safe for concurrent use — the scheduler invokes
// Translate from multiple workers at once.
package translate

import (
	"context"

	"github.com/lenslate/lenslate/pkg/types"
)

// Provider translates text between languages.
type Provider interface {
	// Translate converts text from srcLang to dstLang (ISO 639-1 codes).
	// The returned unit carries [types.ProvenanceEngine]; callers re-tag
	// copies when serving from cache or dictionary. Translate must respect
	// context cancellation.
	Translate(ctx context.Context, text, srcLang, dstLang string) (types.TranslationUnit, error)

	// Close releases any resources held by the provider.
	Close() error
}
