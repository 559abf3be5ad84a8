// Package ocr defines the Provider interface for text recognition backends.
//
// An OCR provider converts a captured [types.Frame] into positioned
// [types.TextBlock] values. The orchestrator never depends on engine
// internals, only on this contract; block merging, validation, and filtering
// happen downstream in the optimizer chain.
//
// Implementations must be safe for concurrent use — the scheduler may invoke
// Recognize from multiple workers at once.
package ocr

import (
	"context"

	"github.com/lenslate/lenslate/pkg/types"
)

// Provider recognizes text in captured frames.
type Provider interface {
	// Recognize extracts text blocks from frame. An empty slice (no text
	// found) is a valid, non-error result. Languages previously supplied via
	// configuration guide recognition; Recognize must respect context
	// cancellation.
	Recognize(ctx context.Context, frame types.Frame) ([]types.TextBlock, error)

	// Close releases any resources held by the provider.
	Close() error
}
