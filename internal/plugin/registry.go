package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// DescriptorFileName is the expected descriptor file inside each plugin
// directory.
const DescriptorFileName = "plugin.yaml"

// ErrNoEssentialOCR is returned when discovery finds no essential OCR-capable
// plugin.
var ErrNoEssentialOCR = errors.New("plugin: no essential OCR-capable plugin available")

// ErrEssentialDisableable is returned when a descriptor marks itself
// essential yet declares can_disable. Essential plugins must stay on, so the
// contradiction blocks startup instead of being skipped.
var ErrEssentialDisableable = errors.New("essential plugins must not declare can_disable")

// Set is an immutable snapshot of the active descriptors plus the master
// switch value they were loaded under. In-flight pipeline ticks hold one Set
// for their whole duration, so a concurrent Reload never changes activity
// decisions mid-tick.
type Set struct {
	masterSwitch bool
	descriptors  map[string]Descriptor
}

// IsActive reports whether the named plugin is active.
//
// Essential plugins bypass the master switch: only their own enabled flag
// counts. Optional plugins require enabled AND the master switch. Unknown
// names are inactive.
func (s *Set) IsActive(name string) bool {
	d, ok := s.descriptors[name]
	if !ok {
		return false
	}
	if d.Essential {
		return d.Enabled
	}
	return d.Enabled && s.masterSwitch
}

// Get returns the descriptor for name.
func (s *Set) Get(name string) (Descriptor, bool) {
	d, ok := s.descriptors[name]
	return d, ok
}

// Descriptors returns all descriptors sorted by name.
func (s *Set) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MasterSwitch returns the master switch value this set was loaded under.
func (s *Set) MasterSwitch() bool { return s.masterSwitch }

// Registry discovers plugin descriptors and serves atomic snapshots of the
// active set. Safe for concurrent use.
type Registry struct {
	dir    string
	logger *slog.Logger
	active atomic.Pointer[Set]
}

// NewRegistry runs discovery under dir and validates the result. It fails
// when no essential OCR-capable plugin survives validation or when an
// essential plugin declares can_disable; other bad descriptors are skipped
// with a logged error.
func NewRegistry(dir string, masterSwitch bool, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{dir: dir, logger: logger}
	if err := r.Reload(masterSwitch); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the current active descriptor set. The returned Set is
// immutable; hold it for the duration of a pipeline tick.
func (r *Registry) Snapshot() *Set {
	return r.active.Load()
}

// Reload re-runs discovery and atomically swaps the active set. On error the
// previous set stays active.
func (r *Registry) Reload(masterSwitch bool) error {
	descriptors, err := r.discover()
	if err != nil {
		return err
	}
	r.active.Store(&Set{masterSwitch: masterSwitch, descriptors: descriptors})
	r.logger.Info("plugin registry loaded",
		"plugins", len(descriptors), "master_switch", masterSwitch)
	return nil
}

// discover walks the plugin directory, loading one descriptor per
// subdirectory. Per-plugin problems are collected and logged; the plugin is
// skipped, not fatal. Two conditions block the whole reload: an essential
// plugin that declares can_disable ([ErrEssentialDisableable]), and a
// surviving set with no essential OCR plugin ([ErrNoEssentialOCR]). Both
// report all collected problems together.
func (r *Registry) discover() (map[string]Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: read dir %q: %w", r.dir, err)
	}

	descriptors := make(map[string]Descriptor)
	var problems []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name(), DescriptorFileName)
		d, err := loadDescriptor(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			problems = append(problems, fmt.Errorf("plugin dir %q: %w", e.Name(), err))
			continue
		}

		if errs := d.Validate(); len(errs) > 0 {
			problems = append(problems, errs...)
			r.logger.Error("skipping invalid plugin", "dir", e.Name(), "err", errors.Join(errs...))
			continue
		}
		if prev, dup := descriptors[d.Name]; dup {
			problems = append(problems, fmt.Errorf("plugin %q: duplicate descriptor (versions %s and %s)", d.Name, prev.Version, d.Version))
			continue
		}
		descriptors[d.Name] = d
	}

	for _, p := range problems {
		if errors.Is(p, ErrEssentialDisableable) {
			return nil, errors.Join(problems...)
		}
	}
	if !hasEssentialOCR(descriptors) {
		problems = append(problems, ErrNoEssentialOCR)
		return nil, errors.Join(problems...)
	}

	for _, p := range problems {
		r.logger.Warn("plugin discovery problem", "err", p)
	}
	return descriptors, nil
}

// hasEssentialOCR reports whether at least one essential OCR-capable plugin
// is present.
func hasEssentialOCR(descriptors map[string]Descriptor) bool {
	for _, d := range descriptors {
		if d.Essential && d.Type == TypeOCR {
			return true
		}
	}
	return false
}

// loadDescriptor reads and decodes one plugin.yaml.
func loadDescriptor(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()

	var d Descriptor
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}
