package store

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Compile-time interface assertion.
var _ Backend = (*FileBackend)(nil)

// FileBackend persists one gzip-compressed JSON file per language pair under
// a base directory, e.g. "<dir>/ja-en.dict.gz".
//
// A file that fails to read or parse is quarantined — renamed with a
// ".corrupt-<timestamp>" suffix — and the pair starts empty rather than
// aborting startup.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the base directory if needed and returns a backend
// rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: dictionary dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dictionary dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// path returns the file path for a language pair.
func (b *FileBackend) path(pair string) string {
	return filepath.Join(b.dir, pair+".dict.gz")
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, pair string) (map[string]DictionaryEntry, error) {
	path := b.path(pair)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return make(map[string]DictionaryEntry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := decodeEntries(f)
	if err != nil {
		// Quarantine the unreadable file and start the pair empty.
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			return nil, fmt.Errorf("decode %s: %w (quarantine also failed: %v)", path, err, renameErr)
		}
		return make(map[string]DictionaryEntry), fmt.Errorf("decode %s: %w (quarantined as %s)", path, err, quarantine)
	}
	return entries, nil
}

// Save implements Backend. The file is written to a temp sibling and renamed
// into place so readers never observe a partial write.
func (b *FileBackend) Save(_ context.Context, pair string, entries map[string]DictionaryEntry) error {
	path := b.path(pair)
	tmp, err := os.CreateTemp(b.dir, pair+".dict.*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodeEntries(tmp, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// decodeEntries reads a gzip-compressed JSON entry map.
func decodeEntries(f *os.File) (map[string]DictionaryEntry, error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var entries map[string]DictionaryEntry
	if err := json.NewDecoder(gz).Decode(&entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]DictionaryEntry)
	}
	return entries, nil
}

// encodeEntries writes the entry map as gzip-compressed JSON.
func encodeEntries(f *os.File, entries map[string]DictionaryEntry) error {
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(entries); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
