// Package imagedir provides a capture provider that replays still images
// from a directory. Images are served in lexical order, cycling back to the
// first after the last, and scaled to the requested region. Useful for
// regression runs against recorded screenshots.
package imagedir

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"

	"github.com/lenslate/lenslate/pkg/provider/capture"
	"github.com/lenslate/lenslate/pkg/types"
)

var _ capture.Provider = (*Provider)(nil)

// Provider replays images from a directory as capture frames.
type Provider struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// New creates an image-directory provider over dir. The directory must
// contain at least one .png, .jpg, or .jpeg file.
func New(dir string) (*Provider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("imagedir: read %q: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("imagedir: no images in %q", dir)
	}
	slices.Sort(paths)

	return &Provider{paths: paths}, nil
}

// Capture decodes the next image in the cycle and scales it to region.
func (p *Provider) Capture(ctx context.Context, region types.Region) (types.Frame, error) {
	if region.IsEmpty() {
		return types.Frame{}, fmt.Errorf("imagedir: region %dx%d is empty", region.Width, region.Height)
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	p.mu.Lock()
	path := p.paths[p.next]
	p.next = (p.next + 1) % len(p.paths)
	p.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("imagedir: open %q: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return types.Frame{}, fmt.Errorf("imagedir: decode %q: %w", path, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, region.Width, region.Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Bounds(), xdraw.Src, nil)

	return types.Frame{
		ID:         uuid.NewString(),
		Pixels:     dst.Pix,
		Region:     region,
		CapturedAt: time.Now(),
	}, nil
}

// Close implements capture.Provider.
func (p *Provider) Close() error { return nil }
