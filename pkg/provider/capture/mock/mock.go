// Package mock provides test doubles for the capture package interfaces.
//
// Use Provider to return scripted frames from Capture and to inspect which
// regions were requested. Frames are returned in order; when the script is
// exhausted the last frame repeats.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/types"
)

// Compile-time interface assertion.
var _ capture.Provider = (*Provider)(nil)

// Provider is a mock implementation of capture.Provider.
type Provider struct {
	mu sync.Mutex

	// Frames is the script of frames returned by successive Capture calls.
	// When exhausted, the last frame is repeated with a fresh ID and timestamp.
	Frames []types.Frame

	// CaptureErr, if non-nil, is returned as the error from every Capture call.
	CaptureErr error

	// Regions records the region passed to each Capture call.
	Regions []types.Region

	// Closed reports whether Close has been called.
	Closed bool

	next int
}

// Capture records the call and returns the next scripted frame.
func (p *Provider) Capture(_ context.Context, region types.Region) (types.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Regions = append(p.Regions, region)
	if p.CaptureErr != nil {
		return types.Frame{}, p.CaptureErr
	}

	var f types.Frame
	switch {
	case len(p.Frames) == 0:
		f = types.Frame{Region: region}
	case p.next < len(p.Frames):
		f = p.Frames[p.next]
		p.next++
	default:
		f = p.Frames[len(p.Frames)-1]
	}
	f.ID = uuid.NewString()
	f.CapturedAt = time.Now()
	return f, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// CaptureCount returns how many times Capture was called.
func (p *Provider) CaptureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Regions)
}
