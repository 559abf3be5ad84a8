package testpattern

import (
	"bytes"
	"context"
	"testing"

	"github.com/lenslate/lenslate/pkg/types"
)

func TestCapture_FrameShape(t *testing.T) {
	p := New()
	region := types.Region{Width: 32, Height: 16}

	frame, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if frame.ID == "" {
		t.Error("frame ID is empty")
	}
	if got, want := len(frame.Pixels), 32*16*4; got != want {
		t.Errorf("pixels = %d bytes, want %d", got, want)
	}
	if frame.Region != region {
		t.Errorf("region = %+v, want %+v", frame.Region, region)
	}
	if frame.CapturedAt.IsZero() {
		t.Error("CapturedAt is zero")
	}
}

func TestCapture_FramesShiftOverTime(t *testing.T) {
	p := New()
	region := types.Region{Width: 32, Height: 32}

	a, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	b, err := p.Capture(context.Background(), region)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if bytes.Equal(a.Pixels, b.Pixels) {
		t.Error("successive frames are identical, pattern should shift")
	}
	if a.ID == b.ID {
		t.Error("successive frames share an ID")
	}
}

func TestCapture_EmptyRegion(t *testing.T) {
	p := New()
	if _, err := p.Capture(context.Background(), types.Region{}); err == nil {
		t.Fatal("expected error for empty region")
	}
}
