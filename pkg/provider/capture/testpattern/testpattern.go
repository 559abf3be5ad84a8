// Package testpattern provides a synthetic capture provider.
//
// Each frame holds a slowly shifting gradient with a bright bar near the
// bottom, so downstream stages see plausibly screen-like input without any
// platform capture API. Useful for smoke tests, demos, and the capture worker
// in environments without a display.
package testpattern

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/types"
)

var _ capture.Provider = (*Provider)(nil)

// Provider generates synthetic frames. Safe for concurrent use.
type Provider struct {
	tickCount atomic.Uint64
}

// New creates a test-pattern provider.
func New() *Provider { return &Provider{} }

// Capture renders one pattern frame for region.
func (p *Provider) Capture(_ context.Context, region types.Region) (types.Frame, error) {
	if region.IsEmpty() {
		return types.Frame{}, fmt.Errorf("testpattern: region %dx%d is empty", region.Width, region.Height)
	}

	n := p.tickCount.Add(1)
	phase := byte(n * 8)

	pixels := make([]byte, region.Width*region.Height*4)
	barTop := region.Height * 3 / 4
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			i := (y*region.Width + x) * 4
			if y >= barTop {
				pixels[i], pixels[i+1], pixels[i+2] = 240, 240, 240
			} else {
				pixels[i] = byte(x) + phase
				pixels[i+1] = byte(y)
				pixels[i+2] = phase
			}
			pixels[i+3] = 255
		}
	}

	return types.Frame{
		ID:         uuid.NewString(),
		Pixels:     pixels,
		Region:     region,
		CapturedAt: time.Now(),
	}, nil
}

// Close implements capture.Provider.
func (p *Provider) Close() error { return nil }
