package optimizer

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/lenslate/lenslate/internal/store"
	"github.com/lenslate/lenslate/pkg/types"
)

// NameTextValidator is the plugin name of the text validator optimizer.
const NameTextValidator = "text-validator"

// Text validator defaults.
const (
	DefaultMinScore = 0.5

	// Signal weights. Each signal is capped at 1.0 before weighting.
	weightConfidence = 0.4
	weightPattern    = 0.3
	weightLength     = 0.1
	weightDictionary = 0.2

	// fuzzyWordThreshold is the Jaro-Winkler score at which an OCR'd word is
	// considered a match for a known dictionary word.
	fuzzyWordThreshold = 0.9
)

// TextValidator scores each recognized TextBlock on OCR confidence,
// character-pattern plausibility, length, and overlap with learned dictionary
// words, then drops blocks scoring below the configured minimum before they
// reach translation. Icon glyphs, scan artifacts, and half-recognized
// fragments rarely survive the combined score.
type TextValidator struct {
	dict     *store.Dictionary
	minScore float64
}

// NewTextValidator creates a validator over the given dictionary handle.
// dict may be nil, which zeroes the dictionary-overlap signal.
func NewTextValidator(dict *store.Dictionary) *TextValidator {
	return &TextValidator{dict: dict, minScore: DefaultMinScore}
}

// Name implements Optimizer.
func (v *TextValidator) Name() string { return NameTextValidator }

// Init implements Optimizer. Recognised settings: min_score.
func (v *TextValidator) Init(settings Settings) error {
	v.minScore = settings.Float("min_score", DefaultMinScore)
	return nil
}

// Pre implements Optimizer.
func (v *TextValidator) Pre(_ context.Context, d Data) (Data, error) { return d, nil }

// Post implements Optimizer. It runs on the OCR stage's output.
func (v *TextValidator) Post(ctx context.Context, d Data) (Data, error) {
	if len(d.Blocks) == 0 {
		return d, nil
	}

	var dictWords []string
	if v.dict != nil {
		dictWords = v.dict.Words(ctx, d.SourceLang, d.TargetLang)
	}

	kept := make([]types.TextBlock, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if v.Score(b, dictWords) >= v.minScore {
			kept = append(kept, b)
		}
	}
	d.Blocks = kept
	return d, nil
}

// Score computes the weighted plausibility score for one block in [0, 1].
func (v *TextValidator) Score(b types.TextBlock, dictWords []string) float64 {
	return weightConfidence*cap1(b.Confidence) +
		weightPattern*cap1(patternScore(b.Text)) +
		weightLength*cap1(lengthScore(b.Text)) +
		weightDictionary*cap1(dictionaryScore(b.Text, dictWords))
}

// cap1 clamps a signal to [0, 1].
func cap1(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// patternScore is the fraction of runes that are plausible text characters:
// letters, digits, spaces, and common punctuation. Control characters,
// replacement runes, and symbol soup pull the score down.
func patternScore(text string) float64 {
	if text == "" {
		return 0
	}
	total, plausible := 0, 0
	for _, r := range text {
		total++
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			plausible++
		case unicode.IsPunct(r):
			plausible++
		case r == unicode.ReplacementChar:
			// counts against
		}
	}
	return float64(plausible) / float64(total)
}

// lengthScore rewards text long enough to be worth translating. Single
// characters are usually OCR noise; anything from four runes up scores full.
func lengthScore(text string) float64 {
	n := len([]rune(strings.TrimSpace(text)))
	switch {
	case n == 0:
		return 0
	case n >= 4:
		return 1
	default:
		return float64(n) / 4
	}
}

// dictionaryScore is the fraction of the block's words that match a known
// dictionary word exactly or by Jaro-Winkler similarity. With no dictionary
// words available the signal is neutral (0.5) so unseen text is not punished.
func dictionaryScore(text string, dictWords []string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	if len(dictWords) == 0 {
		return 0.5
	}

	matched := 0
	for _, w := range words {
		lw := strings.ToLower(w)
		for _, dw := range dictWords {
			if lw == strings.ToLower(dw) || matchr.JaroWinkler(lw, strings.ToLower(dw), false) >= fuzzyWordThreshold {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(words))
}
