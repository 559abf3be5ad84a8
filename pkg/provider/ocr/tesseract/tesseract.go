// Package tesseract provides an OCR provider backed by the Tesseract engine
// through the gosseract client bindings.
//
// Each Recognize call uses a fresh gosseract client: the client carries
// per-image state and is not safe to share across concurrent recognitions.
// Construction cost is dominated by Tesseract's language data load, which the
// library caches process-wide, so per-call clients stay cheap.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	"github.com/lenslate/lenslate/pkg/provider/ocr"
	"github.com/lenslate/lenslate/pkg/types"
)

// EngineName identifies this provider in TextBlock.Engine tags.
const EngineName = "tesseract"

// Compile-time interface assertion.
var _ ocr.Provider = (*Provider)(nil)

// Provider implements ocr.Provider using Tesseract.
type Provider struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// Option configures a [Provider] during construction.
type Option func(*Provider)

// WithLanguages sets Tesseract trained-data language hints
// (e.g., "eng", "jpn", "deu"). Defaults to "eng" when empty.
func WithLanguages(langs ...string) Option {
	return func(p *Provider) {
		p.languages = append([]string(nil), langs...)
	}
}

// New constructs a Tesseract-backed OCR provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		languages:     []string{"eng"},
		clientFactory: gosseract.NewClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Recognize implements ocr.Provider. The frame's raw RGBA pixels are encoded
// to PNG for the Tesseract client, then line-level bounding boxes are mapped
// to TextBlocks.
func (p *Provider) Recognize(ctx context.Context, frame types.Frame) ([]types.TextBlock, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	encoded, err := encodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("tesseract: encode frame %s: %w", frame.ID, err)
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(encoded); err != nil {
		return nil, fmt.Errorf("tesseract: set image: %w", err)
	}
	if len(p.languages) > 0 {
		if err := c.SetLanguage(p.languages...); err != nil {
			return nil, fmt.Errorf("tesseract: set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract: bounding boxes: %w", err)
	}

	blocks := make([]types.TextBlock, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		blocks = append(blocks, types.TextBlock{
			Text: b.Word,
			Bounds: types.Bounds{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
			Confidence: b.Confidence / 100.0,
			Engine:     EngineName,
		})
	}
	return blocks, nil
}

// Close implements ocr.Provider. Clients are per-call, so there is nothing to
// release here.
func (p *Provider) Close() error { return nil }

// encodeFrame converts the frame's raw RGBA buffer into a PNG byte slice.
func encodeFrame(frame types.Frame) ([]byte, error) {
	w, h := frame.Region.Width, frame.Region.Height
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("region %dx%d has no area", w, h)
	}
	if len(frame.Pixels) < w*h*4 {
		return nil, fmt.Errorf("pixel buffer %d bytes, need %d", len(frame.Pixels), w*h*4)
	}

	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
