// Package types defines the shared value types used across all Lenslate packages.
//
// These types form the lingua franca between engine providers, optimizers,
// stores, and the orchestrator. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
//
// Frame, TextBlock, and TranslationUnit are treated as immutable once created:
// stages hand them downstream and never write to them afterwards. Code that
// needs a modified copy builds a new value.
package types

import "time"

// Region describes a rectangular screen area in pixel coordinates, with the
// origin in the upper-left corner of the monitor it belongs to.
type Region struct {
	// X, Y is the offset of the region's upper-left corner.
	X int `json:"x"`
	Y int `json:"y"`

	// Width and Height are the region dimensions in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Monitor identifies which display the region is captured from.
	// Zero is the primary monitor.
	Monitor int `json:"monitor"`
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Frame is a single captured screen image flowing through the pipeline.
// It is owned exclusively by the capture stage until handed to OCR and is
// never mutated after creation.
type Frame struct {
	// ID uniquely identifies this frame across the pipeline and in renderer
	// output. Assigned by the capture stage.
	ID string `json:"id"`

	// Pixels holds the raw image data in row-major RGBA order
	// (4 bytes per pixel, no padding). Base64-encoded on the wire.
	Pixels []byte `json:"pixels"`

	// Region records where on screen the frame was captured from.
	Region Region `json:"region"`

	// CapturedAt is the capture timestamp.
	CapturedAt time.Time `json:"capturedAt"`
}

// Bounds is an axis-aligned bounding box in frame-local pixel coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextBlock is a piece of recognized text produced by the OCR stage.
// Optimizers may merge or filter blocks; each such operation produces new
// TextBlock values rather than mutating existing ones.
type TextBlock struct {
	// Text is the recognized text content.
	Text string

	// Bounds locates the text within the frame it was recognized from.
	Bounds Bounds

	// Confidence is the OCR confidence score (0.0–1.0).
	Confidence float64

	// Engine identifies the OCR engine that produced this block
	// (e.g., "tesseract").
	Engine string
}

// Provenance tags a TranslationUnit with the subsystem that produced it.
type Provenance string

const (
	// ProvenanceEngine marks a translation produced by a direct engine call.
	ProvenanceEngine Provenance = "engine"

	// ProvenanceCache marks a translation served from the in-memory cache.
	ProvenanceCache Provenance = "cache"

	// ProvenanceDictionary marks a translation served from the learned
	// dictionary.
	ProvenanceDictionary Provenance = "dictionary"

	// ProvenanceChain marks a translation produced via an intermediate
	// language hop.
	ProvenanceChain Provenance = "chain"

	// ProvenanceFallback marks an untranslated pass-through produced when the
	// translation engine failed.
	ProvenanceFallback Provenance = "fallback"
)

// TranslationUnit is the result of translating one piece of source text.
// It is immutable once created; cached entries are copies, never shared
// mutable references.
type TranslationUnit struct {
	// Source is the original text handed to translation.
	Source string `json:"source"`

	// SourceLang and TargetLang are ISO 639-1 language codes.
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`

	// Translated is the translated text. For ProvenanceFallback units it
	// equals Source.
	Translated string `json:"translated"`

	// Confidence is the translation confidence score (0.0–1.0). May be zero
	// for engines that do not report one.
	Confidence float64 `json:"confidence"`

	// Bounds locates the source text within its frame, carried through so the
	// renderer can position the overlay.
	Bounds Bounds `json:"bounds"`

	// Provenance records which subsystem produced this unit.
	Provenance Provenance `json:"provenance"`
}

// Priority orders work within the scheduler. Higher values are dequeued first.
type Priority int

const (
	// PriorityBackground is for regions outside the user's focus.
	PriorityBackground Priority = 0

	// PriorityNormal is the default work priority.
	PriorityNormal Priority = 10

	// PriorityVisible is for user-visible regions that should render first.
	PriorityVisible Priority = 20
)

// String returns the human-readable name of the priority band.
func (p Priority) String() string {
	switch {
	case p >= PriorityVisible:
		return "visible"
	case p >= PriorityNormal:
		return "normal"
	default:
		return "background"
	}
}
