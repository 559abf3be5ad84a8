package optimizer

import (
	"context"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/lenslate/lenslate/pkg/types"
)

// NameFrameSkip is the plugin name of the frame-skip optimizer.
const NameFrameSkip = "frame-skip"

// Frame-skip defaults.
const (
	DefaultSimilarityThreshold = 0.95
	DefaultMinRunLength        = 3
	DefaultMaxSkipFrames       = 30

	// thumbSize is the square edge of the downsampled comparison thumbnail.
	thumbSize = 32
)

// FrameSkip marks frames that are perceptually identical to the previous one
// so the pipeline can reuse the previous tick's output. Both frames are
// downsampled to a small grayscale thumbnail and compared by mean absolute
// difference; a run of similar frames at least min_run_length long starts
// skipping, and max_skip_frames bounds how long a static scene may go
// unprocessed.
//
// FrameSkip holds the previous frame per instance, so multiple orchestrators
// (one per captured region) can run frame-skip independently. It is driven
// from the single tick goroutine and is not safe for concurrent use.
type FrameSkip struct {
	threshold float64
	minRun    int
	maxSkips  int

	previous     []byte // previous frame's thumbnail, or nil on first frame
	runLength    int    // consecutive frames meeting the threshold
	consecSkips  int    // consecutive skips emitted
	totalSkipped uint64
}

// NewFrameSkip creates a FrameSkip with default settings.
func NewFrameSkip() *FrameSkip {
	return &FrameSkip{
		threshold: DefaultSimilarityThreshold,
		minRun:    DefaultMinRunLength,
		maxSkips:  DefaultMaxSkipFrames,
	}
}

// Name implements Optimizer.
func (f *FrameSkip) Name() string { return NameFrameSkip }

// Init implements Optimizer. Recognised settings: similarity_threshold,
// min_run_length, max_skip_frames.
func (f *FrameSkip) Init(settings Settings) error {
	f.threshold = settings.Float("similarity_threshold", DefaultSimilarityThreshold)
	f.minRun = settings.Int("min_run_length", DefaultMinRunLength)
	f.maxSkips = settings.Int("max_skip_frames", DefaultMaxSkipFrames)
	return nil
}

// Pre implements Optimizer. It runs on the capture stage's output before OCR.
func (f *FrameSkip) Pre(_ context.Context, d Data) (Data, error) {
	if d.Frame == nil {
		return d, nil
	}

	thumb := thumbnail(d.Frame)
	defer func() { f.previous = thumb }()

	if f.previous == nil {
		f.runLength = 0
		f.consecSkips = 0
		return d, nil
	}

	if Similarity(f.previous, thumb) >= f.threshold {
		f.runLength++
	} else {
		f.runLength = 0
	}

	if f.runLength >= f.minRun && f.consecSkips < f.maxSkips {
		f.consecSkips++
		f.totalSkipped++
		d.Skip = true
		return d, nil
	}

	// Either the scene changed or the skip budget ran out; reprocess.
	f.consecSkips = 0
	return d, nil
}

// Post implements Optimizer.
func (f *FrameSkip) Post(_ context.Context, d Data) (Data, error) { return d, nil }

// TotalSkipped returns how many frames this instance has skipped.
func (f *FrameSkip) TotalSkipped() uint64 { return f.totalSkipped }

// thumbnail downsamples a frame's RGBA pixels to a thumbSize² grayscale
// buffer for cheap perceptual comparison.
func thumbnail(frame *types.Frame) []byte {
	w, h := frame.Region.Width, frame.Region.Height
	if w <= 0 || h <= 0 || len(frame.Pixels) < w*h*4 {
		return nil
	}

	src := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
	dst := image.NewRGBA(image.Rect(0, 0, thumbSize, thumbSize))
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)

	gray := make([]byte, thumbSize*thumbSize)
	for i := range gray {
		r := int(dst.Pix[i*4])
		g := int(dst.Pix[i*4+1])
		b := int(dst.Pix[i*4+2])
		// Integer luma approximation (ITU-R BT.601 weights).
		gray[i] = byte((299*r + 587*g + 114*b) / 1000)
	}
	return gray
}

// Similarity scores two equal-length grayscale buffers in [0, 1]:
// 1 means identical, 0 means maximally different. Mismatched or empty
// buffers score 0.
func Similarity(a, b []byte) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var total int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		total += d
	}
	return 1 - float64(total)/float64(len(a)*255)
}
