// Package mock provides test doubles for the ocr package interfaces.
//
// Use Provider to return scripted TextBlocks from Recognize and to count how
// often recognition ran — the cache and frame-skip tests rely on exact call
// counts.
package mock

import (
	"context"
	"sync"

	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/types"
)

// Compile-time interface assertion.
var _ ocr.Provider = (*Provider)(nil)

// Provider is a mock implementation of ocr.Provider.
type Provider struct {
	mu sync.Mutex

	// Blocks is returned from every Recognize call.
	Blocks []types.TextBlock

	// RecognizeErr, if non-nil, is returned as the error from Recognize.
	RecognizeErr error

	// FrameIDs records the ID of each frame passed to Recognize.
	FrameIDs []string

	// Closed reports whether Close has been called.
	Closed bool
}

// Recognize records the call and returns Blocks, RecognizeErr.
func (p *Provider) Recognize(_ context.Context, frame types.Frame) ([]types.TextBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.FrameIDs = append(p.FrameIDs, frame.ID)
	if p.RecognizeErr != nil {
		return nil, p.RecognizeErr
	}
	out := make([]types.TextBlock, len(p.Blocks))
	copy(out, p.Blocks)
	return out, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// RecognizeCount returns how many times Recognize was called.
func (p *Provider) RecognizeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.FrameIDs)
}
