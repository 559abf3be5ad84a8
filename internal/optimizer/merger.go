package optimizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lenslate/lenslate/pkg/types"
)

// NameTextMerger is the plugin name of the text block merger optimizer.
const NameTextMerger = "text-merger"

// MergeStrategy selects how the merger decides two blocks belong together.
type MergeStrategy string

const (
	// MergeHorizontal joins blocks on the same line within the horizontal
	// gap threshold.
	MergeHorizontal MergeStrategy = "horizontal"

	// MergeVertical joins horizontally aligned blocks within the vertical
	// gap threshold.
	MergeVertical MergeStrategy = "vertical"

	// MergeSmart applies both axes, weighting by proximity.
	MergeSmart MergeStrategy = "smart"

	// MergeAggressive joins any blocks whose gap distance is within the
	// larger threshold, ignoring alignment.
	MergeAggressive MergeStrategy = "aggressive"
)

// IsValid reports whether s is a recognised strategy.
func (s MergeStrategy) IsValid() bool {
	switch s {
	case MergeHorizontal, MergeVertical, MergeSmart, MergeAggressive:
		return true
	}
	return false
}

// Text merger defaults.
const (
	DefaultHorizontalGapPx = 24
	DefaultVerticalGapPx   = 12
	DefaultMergeStrategy   = MergeSmart
)

// sentenceEnders are the punctuation runes a merge never crosses: a block
// that ends a sentence stays the end of its group.
const sentenceEnders = ".!?。！？…"

// TextMerger groups OCR TextBlocks by proximity so sentences split across
// blocks are translated as one unit. Blocks are never merged across
// sentence-ending punctuation.
type TextMerger struct {
	strategy MergeStrategy
	hGapPx   int
	vGapPx   int
}

// NewTextMerger creates a merger with default settings.
func NewTextMerger() *TextMerger {
	return &TextMerger{
		strategy: DefaultMergeStrategy,
		hGapPx:   DefaultHorizontalGapPx,
		vGapPx:   DefaultVerticalGapPx,
	}
}

// Name implements Optimizer.
func (m *TextMerger) Name() string { return NameTextMerger }

// Init implements Optimizer. Recognised settings: strategy,
// horizontal_gap_px, vertical_gap_px.
func (m *TextMerger) Init(settings Settings) error {
	strategy := MergeStrategy(settings.String("strategy", string(DefaultMergeStrategy)))
	if !strategy.IsValid() {
		return fmt.Errorf("text-merger: unknown strategy %q", strategy)
	}
	m.strategy = strategy
	m.hGapPx = settings.Int("horizontal_gap_px", DefaultHorizontalGapPx)
	m.vGapPx = settings.Int("vertical_gap_px", DefaultVerticalGapPx)
	return nil
}

// Pre implements Optimizer.
func (m *TextMerger) Pre(_ context.Context, d Data) (Data, error) { return d, nil }

// Post implements Optimizer. It runs on the OCR stage's output, after the
// validator.
func (m *TextMerger) Post(_ context.Context, d Data) (Data, error) {
	d.Blocks = m.Merge(d.Blocks)
	return d, nil
}

// Merge returns the input blocks grouped according to the configured
// strategy. Input order is not assumed; blocks are processed in reading
// order (top to bottom, left to right).
func (m *TextMerger) Merge(blocks []types.TextBlock) []types.TextBlock {
	if len(blocks) < 2 {
		return blocks
	}

	sorted := make([]types.TextBlock, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Bounds.Y != sorted[j].Bounds.Y {
			return sorted[i].Bounds.Y < sorted[j].Bounds.Y
		}
		return sorted[i].Bounds.X < sorted[j].Bounds.X
	})

	var out []types.TextBlock
	current := sorted[0]
	for _, next := range sorted[1:] {
		if !endsSentence(current.Text) && m.adjacent(current, next) {
			current = join(current, next)
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}

// adjacent reports whether next should be merged into current under the
// configured strategy.
func (m *TextMerger) adjacent(current, next types.TextBlock) bool {
	hGap := axisGap(current.Bounds.X, current.Bounds.Width, next.Bounds.X, next.Bounds.Width)
	vGap := axisGap(current.Bounds.Y, current.Bounds.Height, next.Bounds.Y, next.Bounds.Height)

	switch m.strategy {
	case MergeHorizontal:
		// Same line: the boxes overlap vertically.
		return vGap <= 0 && hGap <= m.hGapPx

	case MergeVertical:
		// Stacked: the boxes overlap horizontally.
		return hGap <= 0 && vGap <= m.vGapPx

	case MergeAggressive:
		limit := max(m.hGapPx, m.vGapPx)
		return hGap <= limit && vGap <= limit

	default: // MergeSmart
		sameLine := vGap <= 0 && hGap <= m.hGapPx
		stacked := hGap <= 0 && vGap <= m.vGapPx
		if sameLine || stacked {
			return true
		}
		// Diagonal neighbors merge when close on both axes, each gap
		// weighted against its own threshold.
		if m.hGapPx <= 0 || m.vGapPx <= 0 {
			return false
		}
		return float64(hGap)/float64(m.hGapPx)+float64(vGap)/float64(m.vGapPx) <= 1
	}
}

// axisGap returns the gap in pixels between two intervals on one axis.
// Overlapping intervals yield a non-positive gap.
func axisGap(a, aLen, b, bLen int) int {
	if a > b {
		a, aLen, b, bLen = b, bLen, a, aLen
	}
	return b - (a + aLen)
}

// endsSentence reports whether text ends with sentence-ending punctuation.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	return strings.ContainsRune(sentenceEnders, runes[len(runes)-1])
}

// join merges next into current: text joined with a space, bounds unioned,
// confidence averaged weighted by text length.
func join(current, next types.TextBlock) types.TextBlock {
	lc, ln := len(current.Text), len(next.Text)
	conf := current.Confidence
	if lc+ln > 0 {
		conf = (current.Confidence*float64(lc) + next.Confidence*float64(ln)) / float64(lc+ln)
	}
	return types.TextBlock{
		Text:       current.Text + " " + next.Text,
		Bounds:     union(current.Bounds, next.Bounds),
		Confidence: conf,
		Engine:     current.Engine,
	}
}

// union returns the smallest bounds containing both.
func union(a, b types.Bounds) types.Bounds {
	x1 := min(a.X, b.X)
	y1 := min(a.Y, b.Y)
	x2 := max(a.X+a.Width, b.X+b.Width)
	y2 := max(a.Y+a.Height, b.Y+b.Height)
	return types.Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}
