package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	// filepath.Join cleans the ".." parts away, so only the resulting
	// parent directory decides.
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "../../configs/ok.yaml")
	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("cleaned path %q rejected: %v", path, err)
	}
	if err := ValidateConfigPath(filepath.Join(dir, "configs", "../../other/ok.yaml")); err == nil {
		t.Error("cleaned path outside configs/ accepted")
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
machine:
  axes: 4
  poll_interval_ms: 5
  strategy: absolute
controller:
  device: /dev/ttyUSB0
  baud: 250000
  queue_depth: 8
encoders:
  - pin_a: 5
    pin_b: 6
    pin_button: 13
  - pin_a: 19
    pin_b: 26
    stop_timeout_ms: 250
settings_file: configs/wheels.yaml
web:
  listen: ":9090"
defaults:
  debug_level: 2
  mock_gpio: true
`

const minimalYAML = `
controller:
  mock: true
encoders:
  - pin_a: 5
    pin_b: 6
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Machine.Axes != 4 {
		t.Errorf("machine.axes = %d, want 4", cfg.Machine.Axes)
	}
	if cfg.Machine.Strategy != "absolute" {
		t.Errorf("machine.strategy = %q, want absolute", cfg.Machine.Strategy)
	}
	if cfg.PollInterval() != 5*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 5ms", cfg.PollInterval())
	}
	if cfg.Controller.Baud != 250000 || cfg.Controller.QueueDepth != 8 {
		t.Errorf("controller = %+v", cfg.Controller)
	}
	if len(cfg.Encoders) != 2 || cfg.Encoders[0].PinButton != 13 {
		t.Fatalf("encoders = %+v", cfg.Encoders)
	}
	if cfg.StopTimeout(0) != 100*time.Millisecond || cfg.StopTimeout(1) != 250*time.Millisecond {
		t.Errorf("stop timeouts = %v, %v", cfg.StopTimeout(0), cfg.StopTimeout(1))
	}
	if cfg.SettingsFile != "configs/wheels.yaml" {
		t.Errorf("settings_file = %q", cfg.SettingsFile)
	}
	if cfg.Web.Listen != ":9090" {
		t.Errorf("web.listen = %q", cfg.Web.Listen)
	}
	if cfg.Defaults.DebugLevel != 2 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Machine.Axes != 3 {
		t.Errorf("axes default = %d, want 3", cfg.Machine.Axes)
	}
	if cfg.Machine.PollIntervalMs != 10 {
		t.Errorf("poll_interval_ms default = %d, want 10", cfg.Machine.PollIntervalMs)
	}
	if cfg.Machine.Strategy != "relative" {
		t.Errorf("strategy default = %q, want relative", cfg.Machine.Strategy)
	}
	if cfg.Controller.Baud != 115200 {
		t.Errorf("baud default = %d, want 115200", cfg.Controller.Baud)
	}
	if cfg.Controller.ReadTimeoutMs != 100 {
		t.Errorf("read_timeout_ms default = %d, want 100", cfg.Controller.ReadTimeoutMs)
	}
	if cfg.Controller.QueueDepth != 16 {
		t.Errorf("queue_depth default = %d, want 16", cfg.Controller.QueueDepth)
	}
	if cfg.StatusInterval() != 200*time.Millisecond {
		t.Errorf("StatusInterval() default = %v, want 200ms", cfg.StatusInterval())
	}
	if cfg.SettingsFile != "configs/encoders.yaml" {
		t.Errorf("settings_file default = %q", cfg.SettingsFile)
	}
	if cfg.Web.Listen != ":8080" {
		t.Errorf("web.listen default = %q", cfg.Web.Listen)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"axes_too_few", "machine:\n  axes: 2\n" + minimalYAML},
		{"axes_too_many", "machine:\n  axes: 7\n" + minimalYAML},
		{"unknown_strategy", "machine:\n  strategy: teleport\n" + minimalYAML},
		{"no_device", "encoders:\n  - pin_a: 5\n    pin_b: 6\n"},
		{"no_encoders", "controller:\n  mock: true\n"},
		{"missing_pin_b", "controller:\n  mock: true\nencoders:\n  - pin_a: 5\n"},
		{"shared_pin", "controller:\n  mock: true\nencoders:\n  - pin_a: 5\n    pin_b: 6\n  - pin_a: 6\n    pin_b: 7\n"},
		{"button_on_phase_pin", "controller:\n  mock: true\nencoders:\n  - pin_a: 5\n    pin_b: 6\n    pin_button: 5\n"},
		{"debug_level", "defaults:\n  debug_level: 9\n" + minimalYAML},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestLoad_TooManyEncoders(t *testing.T) {
	var b strings.Builder
	b.WriteString("controller:\n  mock: true\nencoders:\n")
	for i := 0; i <= MaxEncoders; i++ {
		fmt.Fprintf(&b, "  - pin_a: %d\n    pin_b: %d\n", 2+2*i, 3+2*i)
	}
	if _, err := Load(writeConfig(t, b.String())); err == nil {
		t.Error("expected error for too many encoders, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	data := strings.Repeat("#", MaxConfigFileBytes+1)
	if _, err := Load(writeConfig(t, data)); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for empty config (no encoders), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := minimalYAML + `
unknown_section:
  foo: bar
`
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}
