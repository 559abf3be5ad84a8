package imagedir

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lenslate/lenslate/pkg/types"
)

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %q: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %q: %v", path, err)
	}
}

func TestNew_EmptyDir(t *testing.T) {
	if _, err := New(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without images")
	}
}

func TestCapture_ScalesAndCycles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, A: 255})
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{G: 255, A: 255})

	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	region := types.Region{Width: 16, Height: 16}

	first, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got, want := len(first.Pixels), 16*16*4; got != want {
		t.Fatalf("pixels = %d bytes, want %d", got, want)
	}
	// a.png is solid red.
	if first.Pixels[0] < 200 || first.Pixels[1] > 50 {
		t.Errorf("first frame top-left = (%d,%d,%d), want red",
			first.Pixels[0], first.Pixels[1], first.Pixels[2])
	}

	second, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	// b.png is solid green.
	if second.Pixels[1] < 200 || second.Pixels[0] > 50 {
		t.Errorf("second frame top-left = (%d,%d,%d), want green",
			second.Pixels[0], second.Pixels[1], second.Pixels[2])
	}

	// Third capture cycles back to a.png.
	third, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if third.Pixels[0] < 200 {
		t.Errorf("third frame should cycle back to red, got (%d,%d,%d)",
			third.Pixels[0], third.Pixels[1], third.Pixels[2])
	}
}
