package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/pkg/types"
)

// DefaultLearnThreshold is the minimum confidence a translation must carry to
// be persisted into the dictionary when no threshold is configured.
const DefaultLearnThreshold = 0.8

// DictionaryEntry is one learned translation for a language pair.
type DictionaryEntry struct {
	// Source is the original text, as learned (whitespace-trimmed).
	Source string `json:"source"`

	// Translation is the learned translated text.
	Translation string `json:"translation"`

	// Confidence is the confidence of the translation that produced this
	// entry. Entries are only ever replaced by equal-or-higher confidence.
	Confidence float64 `json:"confidence"`

	// Engine names the engine or subsystem that produced the translation.
	Engine string `json:"engine"`

	// UpdatedAt is when the entry was last written.
	UpdatedAt time.Time `json:"updatedAt"`

	// UsageCount counts successful lookups served by this entry.
	UsageCount int `json:"usageCount"`
}

// Backend persists the per-language-pair entry maps. Implementations:
// [FileBackend] (compressed JSON, one file per pair, the default) and
// [PostgresBackend].
type Backend interface {
	// Load returns all entries for pair keyed by source text. A pair that has
	// never been saved returns an empty map, not an error.
	Load(ctx context.Context, pair string) (map[string]DictionaryEntry, error)

	// Save persists the full entry map for pair, replacing previous contents.
	Save(ctx context.Context, pair string, entries map[string]DictionaryEntry) error

	// Close releases backend resources.
	Close() error
}

// PairKey builds the canonical language-pair key, e.g. "ja-en".
func PairKey(srcLang, dstLang string) string {
	return strings.ToLower(srcLang) + "-" + strings.ToLower(dstLang)
}

// dictShard holds the loaded entries of one language pair. Each shard has its
// own lock, so concurrent workers translating different pairs never contend.
type dictShard struct {
	mu      sync.RWMutex
	loaded  bool
	dirty   bool
	entries map[string]DictionaryEntry
}

// Dictionary is the confidence-gated learned dictionary. Lookups are served
// from memory; Learn updates memory and marks the pair dirty; Flush persists
// dirty pairs through the configured Backend.
//
// All methods are safe for concurrent use. Locking is per language pair.
type Dictionary struct {
	backend   Backend
	threshold float64
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu     sync.Mutex // guards the shards map only
	shards map[string]*dictShard
}

// DictionaryConfig configures a [Dictionary].
type DictionaryConfig struct {
	// Backend persists entries. Required.
	Backend Backend

	// LearnThreshold is the minimum confidence for persisting an entry.
	// Defaults to [DefaultLearnThreshold] when non-positive.
	LearnThreshold float64

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger

	// Metrics, when set, counts persisted entries. Optional.
	Metrics *observe.Metrics
}

// NewDictionary creates a Dictionary over the given backend.
func NewDictionary(cfg DictionaryConfig) (*Dictionary, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("store: dictionary backend must not be nil")
	}
	if cfg.LearnThreshold <= 0 {
		cfg.LearnThreshold = DefaultLearnThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dictionary{
		backend:   cfg.Backend,
		threshold: cfg.LearnThreshold,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		shards:    make(map[string]*dictShard),
	}, nil
}

// LearnThreshold returns the configured persistence threshold.
func (d *Dictionary) LearnThreshold() float64 { return d.threshold }

// shard returns the shard for pair, creating it if needed. The shard is
// loaded from the backend on first use; a backend load failure degrades to an
// empty shard so a broken file never stops the pipeline.
func (d *Dictionary) shard(ctx context.Context, pair string) *dictShard {
	d.mu.Lock()
	s, ok := d.shards[pair]
	if !ok {
		s = &dictShard{entries: make(map[string]DictionaryEntry)}
		d.shards[pair] = s
	}
	d.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		entries, err := d.backend.Load(ctx, pair)
		if err != nil {
			d.logger.Warn("dictionary load failed, starting empty",
				"pair", pair, "err", err)
			entries = make(map[string]DictionaryEntry)
		}
		s.entries = entries
		s.loaded = true
	}
	return s
}

// Lookup returns a TranslationUnit built from the learned entry for source in
// the given language pair, tagged [types.ProvenanceDictionary]. The entry's
// usage count is incremented on a hit.
func (d *Dictionary) Lookup(ctx context.Context, source, srcLang, dstLang string) (types.TranslationUnit, bool) {
	key := strings.TrimSpace(source)
	if key == "" {
		return types.TranslationUnit{}, false
	}
	s := d.shard(ctx, PairKey(srcLang, dstLang))

	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok {
		return types.TranslationUnit{}, false
	}
	ent.UsageCount++
	s.entries[key] = ent
	s.dirty = true

	return types.TranslationUnit{
		Source:     key,
		SourceLang: srcLang,
		TargetLang: dstLang,
		Translated: ent.Translation,
		Confidence: ent.Confidence,
		Provenance: types.ProvenanceDictionary,
	}, true
}

// Contains reports whether source is known for the language pair without
// counting a usage.
func (d *Dictionary) Contains(ctx context.Context, source, srcLang, dstLang string) bool {
	key := strings.TrimSpace(source)
	if key == "" {
		return false
	}
	s := d.shard(ctx, PairKey(srcLang, dstLang))
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Words returns the distinct source-side words known for the language pair.
// Used by the text validator for dictionary-overlap scoring.
func (d *Dictionary) Words(ctx context.Context, srcLang, dstLang string) []string {
	s := d.shard(ctx, PairKey(srcLang, dstLang))
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var words []string
	for source := range s.entries {
		for _, w := range strings.Fields(source) {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
		}
	}
	return words
}

// Learn records unit into the dictionary if its confidence meets the
// threshold. An existing entry is updated in place, never duplicated, and is
// never replaced by a lower-confidence translation. Returns true when the
// entry was written.
func (d *Dictionary) Learn(ctx context.Context, unit types.TranslationUnit) bool {
	key := strings.TrimSpace(unit.Source)
	if key == "" || unit.Translated == "" {
		return false
	}
	if unit.Confidence < d.threshold {
		return false
	}

	s := d.shard(ctx, PairKey(unit.SourceLang, unit.TargetLang))

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[key]; ok {
		if unit.Confidence < prev.Confidence {
			return false
		}
		prev.Translation = unit.Translated
		prev.Confidence = unit.Confidence
		prev.Engine = string(unit.Provenance)
		prev.UpdatedAt = time.Now()
		s.entries[key] = prev
	} else {
		s.entries[key] = DictionaryEntry{
			Source:      key,
			Translation: unit.Translated,
			Confidence:  unit.Confidence,
			Engine:      string(unit.Provenance),
			UpdatedAt:   time.Now(),
		}
	}
	s.dirty = true
	if d.metrics != nil {
		d.metrics.DictionaryLearned.Add(ctx, 1)
	}
	return true
}

// Len returns the number of entries loaded for the language pair.
func (d *Dictionary) Len(ctx context.Context, srcLang, dstLang string) int {
	s := d.shard(ctx, PairKey(srcLang, dstLang))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Flush persists every dirty language pair. It keeps going on per-pair
// failures and returns the first error encountered.
func (d *Dictionary) Flush(ctx context.Context) error {
	d.mu.Lock()
	pairs := make(map[string]*dictShard, len(d.shards))
	for pair, s := range d.shards {
		pairs[pair] = s
	}
	d.mu.Unlock()

	var firstErr error
	for pair, s := range pairs {
		s.mu.Lock()
		if !s.dirty {
			s.mu.Unlock()
			continue
		}
		snapshot := make(map[string]DictionaryEntry, len(s.entries))
		for k, v := range s.entries {
			snapshot[k] = v
		}
		s.dirty = false
		s.mu.Unlock()

		if err := d.backend.Save(ctx, pair, snapshot); err != nil {
			d.logger.Error("dictionary save failed", "pair", pair, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("store: save pair %s: %w", pair, err)
			}
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		}
	}
	return firstErr
}

// Close flushes dirty pairs and closes the backend.
func (d *Dictionary) Close(ctx context.Context) error {
	flushErr := d.Flush(ctx)
	closeErr := d.backend.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
