// Package capture defines the Provider interface for screen capture backends.
//
// A capture provider grabs a single screenshot of a configured screen region
// per call. The orchestrator calls Capture once per pipeline tick; providers
// own nothing beyond the duration of that call and must return a fully
// populated, immutable [types.Frame].
//
// The default production implementation runs capture in an isolated worker
// process supervised by internal/subproc, so a crashing platform capture API
// cannot take down the pipeline. Implementations must be safe for concurrent
// use.
package capture

import (
	"context"

	"github.com/lenslate/lenslate/pkg/types"
)

// Provider grabs screen content for a region.
type Provider interface {
	// Capture takes a screenshot of region and returns it as a Frame with a
	// fresh ID and capture timestamp. It must respect context cancellation.
	Capture(ctx context.Context, region types.Region) (types.Frame, error)

	// Close releases any resources held by the provider. Capture must not be
	// called after Close.
	Close() error
}
