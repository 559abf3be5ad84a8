package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writePlugin creates <dir>/<name>/plugin.yaml with the given content.
func writePlugin(t *testing.T, dir, name, content string) {
	t.Helper()
	pdir := filepath.Join(dir, name)
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pdir, DescriptorFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

const essentialOCR = `
name: tesseract-ocr
version: "1.0"
type: ocr
target_stage: ocr
hook: global
essential: true
can_disable: false
enabled: true
`

const optionalFrameSkip = `
name: frame-skip
version: "1.0"
type: optimizer
target_stage: capture
hook: pre
essential: false
can_disable: true
enabled: true
settings:
  similarity_threshold:
    type: float
    default: 0.95
    min: 0.0
    max: 1.0
`

func TestRegistry_EssentialBypassesMasterSwitch(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "ocr", essentialOCR)
	writePlugin(t, dir, "frameskip", optionalFrameSkip)

	// Master switch off: essential stays active, optional does not.
	r, err := NewRegistry(dir, false, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	set := r.Snapshot()
	if !set.IsActive("tesseract-ocr") {
		t.Error("essential plugin must ignore the master switch")
	}
	if set.IsActive("frame-skip") {
		t.Error("optional plugin must honour the master switch")
	}

	// Master switch on: both active.
	if err := r.Reload(true); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	set = r.Snapshot()
	if !set.IsActive("tesseract-ocr") || !set.IsActive("frame-skip") {
		t.Error("both plugins should be active with the master switch on")
	}
}

func TestRegistry_DisabledEssentialIsInactive(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "ocr", essentialOCR)
	writePlugin(t, dir, "ocr2", strings.NewReplacer(
		"name: tesseract-ocr", "name: backup-ocr",
		"enabled: true", "enabled: false",
	).Replace(essentialOCR))

	r, err := NewRegistry(dir, true, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	set := r.Snapshot()
	if set.IsActive("backup-ocr") {
		t.Error("disabled essential plugin must be inactive")
	}
}

func TestRegistry_NoEssentialOCRFailsStartup(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "frameskip", optionalFrameSkip)

	_, err := NewRegistry(dir, true, nil)
	if !errors.Is(err, ErrNoEssentialOCR) {
		t.Fatalf("err = %v, want ErrNoEssentialOCR", err)
	}
}

func TestRegistry_ReportsAllErrorsAtOnce(t *testing.T) {
	dir := t.TempDir()
	// Essential plugin that claims it can be disabled: fatal.
	writePlugin(t, dir, "bad1", strings.Replace(essentialOCR, "can_disable: false", "can_disable: true", 1))
	// Unknown stage: also invalid.
	writePlugin(t, dir, "bad2", strings.Replace(optionalFrameSkip, "target_stage: capture", "target_stage: nowhere", 1))

	_, err := NewRegistry(dir, true, nil)
	if !errors.Is(err, ErrEssentialDisableable) {
		t.Fatalf("err = %v, want ErrEssentialDisableable", err)
	}
	msg := err.Error()
	for _, want := range []string{"can_disable", "nowhere"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestRegistry_InvalidOptionalIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "ocr", essentialOCR)
	writePlugin(t, dir, "bad", strings.Replace(optionalFrameSkip, "hook: pre", "hook: sideways", 1))

	r, err := NewRegistry(dir, true, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := r.Snapshot().Get("frame-skip"); ok {
		t.Error("invalid plugin should have been skipped")
	}
}

func TestRegistry_EssentialCanDisableFailsStartup(t *testing.T) {
	dir := t.TempDir()
	// A perfectly good essential OCR plugin must not rescue startup when
	// another essential plugin contradicts itself.
	writePlugin(t, dir, "ocr", essentialOCR)
	writePlugin(t, dir, "cap", `
name: native-capture
version: "1.0"
type: capture
target_stage: capture
hook: global
essential: true
can_disable: true
enabled: true
`)

	_, err := NewRegistry(dir, true, nil)
	if !errors.Is(err, ErrEssentialDisableable) {
		t.Fatalf("err = %v, want ErrEssentialDisableable", err)
	}
	if !strings.Contains(err.Error(), "native-capture") {
		t.Errorf("error should name the offending plugin, got: %v", err)
	}
}

func TestRegistry_SnapshotSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "ocr", essentialOCR)
	writePlugin(t, dir, "frameskip", optionalFrameSkip)

	r, err := NewRegistry(dir, true, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	old := r.Snapshot()

	// A tick holding the old set keeps its view across a reload.
	if err := r.Reload(false); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !old.IsActive("frame-skip") {
		t.Error("old snapshot must be unaffected by reload")
	}
	if r.Snapshot().IsActive("frame-skip") {
		t.Error("new snapshot must reflect the master switch change")
	}
}

func TestSettingSchema_CheckValue(t *testing.T) {
	minV, maxV := 0.0, 1.0
	tests := []struct {
		name    string
		schema  SettingSchema
		value   any
		wantErr bool
	}{
		{"float in range", SettingSchema{Type: SettingFloat, Default: 0.5, Min: &minV, Max: &maxV}, 0.95, false},
		{"float above max", SettingSchema{Type: SettingFloat, Default: 0.5, Min: &minV, Max: &maxV}, 1.5, true},
		{"int not integer", SettingSchema{Type: SettingInt, Default: 3}, 3.5, true},
		{"int ok", SettingSchema{Type: SettingInt, Default: 3}, 30, false},
		{"bool wrong type", SettingSchema{Type: SettingBool, Default: true}, "yes", true},
		{"choice valid", SettingSchema{Type: SettingChoice, Default: "smart", Options: []string{"smart", "aggressive"}}, "aggressive", false},
		{"choice invalid", SettingSchema{Type: SettingChoice, Default: "smart", Options: []string{"smart", "aggressive"}}, "bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.CheckValue("s", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckValue(%v) err = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}
