package subproc

import (
	"context"
	"fmt"

	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/types"
)

// Compile-time interface assertion.
var _ capture.Provider = (*CaptureProvider)(nil)

// CaptureRequest is the process-message payload sent to a capture worker.
type CaptureRequest struct {
	Region types.Region `json:"region"`
}

// CaptureProvider adapts a supervised capture worker process to the
// [capture.Provider] contract. Each Capture call is one process/result
// round trip; worker crashes surface as errors here while the supervisor
// restarts or degrades the stage in the background.
type CaptureProvider struct {
	sup *Supervisor
}

// NewCaptureProvider wraps an already-started supervisor.
func NewCaptureProvider(sup *Supervisor) *CaptureProvider {
	return &CaptureProvider{sup: sup}
}

// Capture implements [capture.Provider].
func (p *CaptureProvider) Capture(ctx context.Context, region types.Region) (types.Frame, error) {
	var frame types.Frame
	if err := p.sup.Call(ctx, CaptureRequest{Region: region}, &frame); err != nil {
		return types.Frame{}, fmt.Errorf("capture via worker: %w", err)
	}
	if len(frame.Pixels) < region.Width*region.Height*4 {
		return types.Frame{}, fmt.Errorf("capture via worker: short pixel buffer (%d bytes for %dx%d)",
			len(frame.Pixels), region.Width, region.Height)
	}
	return frame, nil
}

// Close stops the underlying worker process.
func (p *CaptureProvider) Close() error {
	return p.sup.Stop()
}
