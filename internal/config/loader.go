package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per pipeline stage.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":   {"subprocess", "test-pattern", "image-dir"},
	"ocr":       {"tesseract", "mock"},
	"translate": {"openai", "anyllm", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation; unknown names warn rather than fail so
	// third-party providers keep working.
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("ocr", cfg.Providers.OCR.Name)
	validateProviderName("translate", cfg.Providers.Translate.Name)

	// Capture subprocess settings
	capture := cfg.Providers.Capture
	if capture.Name == "subprocess" && len(capture.Command) == 0 {
		errs = append(errs, errors.New("providers.capture.command is required when providers.capture.name is subprocess"))
	}
	if capture.Framing != "" && !capture.Framing.IsValid() {
		errs = append(errs, fmt.Errorf("providers.capture.framing %q is invalid; valid values: length, newline", capture.Framing))
	}
	if capture.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("providers.capture.max_restarts %d must not be negative", capture.MaxRestarts))
	}

	if cfg.Providers.Translate.Name == "" && len(cfg.Regions) > 0 {
		slog.Warn("no translation provider configured; regions will render untranslated text")
	}

	// Regions
	regionNamesSeen := make(map[string]int, len(cfg.Regions))
	for i, region := range cfg.Regions {
		prefix := fmt.Sprintf("regions[%d]", i)
		if region.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := regionNamesSeen[region.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of regions[%d]", prefix, region.Name, prev))
			}
			regionNamesSeen[region.Name] = i
		}
		if region.Width <= 0 || region.Height <= 0 {
			errs = append(errs, fmt.Errorf("%s: width and height must be positive, got %dx%d", prefix, region.Width, region.Height))
		}
		if region.SourceLang == "" || region.TargetLang == "" {
			errs = append(errs, fmt.Errorf("%s: source_lang and target_lang are required", prefix))
		} else if region.SourceLang == region.TargetLang {
			errs = append(errs, fmt.Errorf("%s: source_lang and target_lang are both %q", prefix, region.SourceLang))
		}
		if region.Priority != "" && !region.Priority.IsValid() {
			errs = append(errs, fmt.Errorf("%s.priority %q is invalid; valid values: background, normal, visible", prefix, region.Priority))
		}
		if region.TickInterval < 0 {
			errs = append(errs, fmt.Errorf("%s.tick_interval must not be negative", prefix))
		}
	}

	// Pipeline
	if cfg.Pipeline.TickInterval < 0 {
		errs = append(errs, errors.New("pipeline.tick_interval must not be negative"))
	}
	for pair, mid := range cfg.Pipeline.ChainLanguages {
		src, dst, ok := strings.Cut(pair, "-")
		if !ok || src == "" || dst == "" {
			errs = append(errs, fmt.Errorf("pipeline.chain_languages key %q must be a language pair like ja-de", pair))
			continue
		}
		if mid == "" {
			errs = append(errs, fmt.Errorf("pipeline.chain_languages[%q]: intermediate language is required", pair))
		}
	}

	// Stores
	if cfg.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must not be negative"))
	}
	if cfg.Dictionary.Backend != "" && !cfg.Dictionary.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("dictionary.backend %q is invalid; valid values: file, postgres", cfg.Dictionary.Backend))
	}
	if cfg.Dictionary.Backend == BackendPostgres && cfg.Dictionary.PostgresDSN == "" {
		errs = append(errs, errors.New("dictionary.postgres_dsn is required when dictionary.backend is postgres"))
	}
	if t := cfg.Dictionary.LearnThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("dictionary.learn_threshold %.2f is out of range [0, 1]", t))
	}

	// Scheduler
	if cfg.Scheduler.Workers < 0 {
		errs = append(errs, errors.New("scheduler.workers must not be negative"))
	}
	if cfg.Scheduler.IntakeDepth < 0 {
		errs = append(errs, errors.New("scheduler.intake_depth must not be negative"))
	}

	// Plugins
	if cfg.Plugins.Enabled && cfg.Plugins.Dir == "" {
		errs = append(errs, errors.New("plugins.dir is required when plugins.enabled is true"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given stage.
func validateProviderName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[stage]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
