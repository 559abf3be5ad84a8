// Package plugin discovers and gates the pipeline's plugin descriptors.
//
// A plugin is described by one plugin.yaml per plugin directory. Descriptors
// are loaded once at startup; configuration changes require a [Registry.Reload],
// which re-runs discovery and atomically swaps the active descriptor set.
// In-flight pipeline ticks keep using the [Set] snapshot they started with.
//
// Essential plugins bypass the master switch: their activity depends only on
// their own enabled flag. Optional plugins are active only while both their
// enabled flag and the master switch are on.
package plugin

import (
	"fmt"
	"slices"
)

// Type classifies what a plugin provides.
type Type string

const (
	TypeCapture       Type = "capture"
	TypeOCR           Type = "ocr"
	TypeTranslation   Type = "translation"
	TypeOptimizer     Type = "optimizer"
	TypeTextProcessor Type = "text_processor"
)

// IsValid reports whether t is a recognised plugin type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCapture, TypeOCR, TypeTranslation, TypeOptimizer, TypeTextProcessor:
		return true
	}
	return false
}

// Stage names the pipeline stage a plugin attaches to.
type Stage string

const (
	StageCapture     Stage = "capture"
	StageOCR         Stage = "ocr"
	StageTranslation Stage = "translation"
	StagePipeline    Stage = "pipeline"
)

// IsValid reports whether s is a recognised stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageCapture, StageOCR, StageTranslation, StagePipeline:
		return true
	}
	return false
}

// Hook names the slot a plugin's processing attaches to within its stage.
type Hook string

const (
	HookPre    Hook = "pre"
	HookPost   Hook = "post"
	HookGlobal Hook = "global"
)

// IsValid reports whether h is a recognised hook point.
func (h Hook) IsValid() bool {
	return h == HookPre || h == HookPost || h == HookGlobal
}

// SettingType constrains the value type of one plugin setting.
type SettingType string

const (
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingString SettingType = "string"
	SettingChoice SettingType = "choice"
)

// IsValid reports whether t is a recognised setting type.
func (t SettingType) IsValid() bool {
	switch t {
	case SettingInt, SettingFloat, SettingBool, SettingString, SettingChoice:
		return true
	}
	return false
}

// SettingSchema declares the type, default, and bounds of one plugin setting.
// Values are validated against the schema at load time, not at call time.
type SettingSchema struct {
	Type SettingType `yaml:"type"`

	// Default is the value used when the setting is not overridden. Required.
	Default any `yaml:"default"`

	// Min and Max bound int and float settings. Nil means unbounded.
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`

	// Options enumerates the legal values of a choice setting.
	Options []string `yaml:"options"`
}

// Validate checks the schema itself plus its default against the declared
// type and bounds.
func (s SettingSchema) Validate(name string) error {
	if !s.Type.IsValid() {
		return fmt.Errorf("setting %q: unknown type %q", name, s.Type)
	}
	if s.Default == nil {
		return fmt.Errorf("setting %q: default is required", name)
	}
	return s.CheckValue(name, s.Default)
}

// CheckValue validates one concrete value against the schema.
func (s SettingSchema) CheckValue(name string, value any) error {
	switch s.Type {
	case SettingInt:
		n, ok := asFloat(value)
		if !ok || n != float64(int64(n)) {
			return fmt.Errorf("setting %q: %v is not an integer", name, value)
		}
		return s.checkBounds(name, n)

	case SettingFloat:
		n, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("setting %q: %v is not a number", name, value)
		}
		return s.checkBounds(name, n)

	case SettingBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("setting %q: %v is not a bool", name, value)
		}

	case SettingString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("setting %q: %v is not a string", name, value)
		}

	case SettingChoice:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("setting %q: %v is not a string", name, value)
		}
		if !slices.Contains(s.Options, str) {
			return fmt.Errorf("setting %q: %q is not one of %v", name, str, s.Options)
		}
	}
	return nil
}

// checkBounds verifies n against Min/Max when set.
func (s SettingSchema) checkBounds(name string, n float64) error {
	if s.Min != nil && n < *s.Min {
		return fmt.Errorf("setting %q: %v is below minimum %v", name, n, *s.Min)
	}
	if s.Max != nil && n > *s.Max {
		return fmt.Errorf("setting %q: %v is above maximum %v", name, n, *s.Max)
	}
	return nil
}

// asFloat normalises YAML-decoded numeric values.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Descriptor is the on-disk description of one plugin, loaded from
// plugin.yaml in the plugin's directory.
type Descriptor struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Type    Type   `yaml:"type"`

	// TargetStage is the pipeline stage the plugin attaches to.
	TargetStage Stage `yaml:"target_stage"`

	// HookPoint is the slot within the stage.
	HookPoint Hook `yaml:"hook"`

	// Essential plugins bypass the master switch and must not be
	// disable-able.
	Essential bool `yaml:"essential"`

	// CanDisable reports whether the user may turn the plugin off. Must be
	// false for essential plugins.
	CanDisable bool `yaml:"can_disable"`

	// Enabled is the plugin's own on/off flag.
	Enabled bool `yaml:"enabled"`

	// Settings declares the plugin's typed configuration schema.
	Settings map[string]SettingSchema `yaml:"settings"`
}

// EffectiveSettings returns the plugin's setting values keyed by name. With
// no override mechanism in the descriptor itself, these are the schema
// defaults, already validated at load time.
func (d Descriptor) EffectiveSettings() map[string]any {
	if len(d.Settings) == 0 {
		return nil
	}
	values := make(map[string]any, len(d.Settings))
	for name, schema := range d.Settings {
		values[name] = schema.Default
	}
	return values
}

// Validate checks internal consistency of the descriptor. All problems are
// returned, not just the first.
func (d Descriptor) Validate() []error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("plugin name is required"))
	}
	if !d.Type.IsValid() {
		errs = append(errs, fmt.Errorf("plugin %q: unknown type %q", d.Name, d.Type))
	}
	if !d.TargetStage.IsValid() {
		errs = append(errs, fmt.Errorf("plugin %q: unknown target_stage %q", d.Name, d.TargetStage))
	}
	if !d.HookPoint.IsValid() {
		errs = append(errs, fmt.Errorf("plugin %q: unknown hook %q", d.Name, d.HookPoint))
	}
	if d.Essential && d.CanDisable {
		errs = append(errs, fmt.Errorf("plugin %q: %w", d.Name, ErrEssentialDisableable))
	}
	for name, schema := range d.Settings {
		if err := schema.Validate(name); err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", d.Name, err))
		}
	}
	return errs
}
