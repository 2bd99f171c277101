package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// MaxEncoders is the number of encoder slots the settings namespace can hold.
const MaxEncoders = 8

// MachineConfig describes the CNC machine the handwheels drive.
type MachineConfig struct {
	Axes           int    `yaml:"axes"`             // 3..6 (X Y Z A B C)
	PollIntervalMs int    `yaml:"poll_interval_ms"` // control loop period
	Strategy       string `yaml:"strategy"`         // "relative" or "absolute"
}

// ControllerConfig describes the link to the motion controller.
type ControllerConfig struct {
	Mock             bool   `yaml:"mock"` // in-process simulated controller
	Device           string `yaml:"device"`
	Baud             int    `yaml:"baud"`
	ReadTimeoutMs    int    `yaml:"read_timeout_ms"`
	QueueDepth       int    `yaml:"queue_depth"`
	StatusIntervalMs int    `yaml:"status_interval_ms"`
}

// EncoderConfig holds the wiring of one encoder (BCM numbering).
type EncoderConfig struct {
	PinA          int `yaml:"pin_a"`
	PinB          int `yaml:"pin_b"`
	PinButton     int `yaml:"pin_button"` // 0 = no push button
	StopTimeoutMs int `yaml:"stop_timeout_ms"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Machine      MachineConfig    `yaml:"machine"`
	Controller   ControllerConfig `yaml:"controller"`
	Encoders     []EncoderConfig  `yaml:"encoders"`
	SettingsFile string           `yaml:"settings_file"`
	Web          WebConfig        `yaml:"web"`
	Defaults     DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files located directly in a
// configs/ directory, without ".." components.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Machine.Axes == 0 {
		c.Machine.Axes = 3
	}
	if c.Machine.Axes < 3 || c.Machine.Axes > 6 {
		return fmt.Errorf("machine.axes must be between 3 and 6, got %d", c.Machine.Axes)
	}
	if c.Machine.PollIntervalMs <= 0 {
		c.Machine.PollIntervalMs = 10
	}
	switch c.Machine.Strategy {
	case "":
		c.Machine.Strategy = "relative"
	case "relative", "absolute":
	default:
		return fmt.Errorf("machine.strategy must be relative or absolute, got %q", c.Machine.Strategy)
	}

	if !c.Controller.Mock && c.Controller.Device == "" {
		return fmt.Errorf("controller.device is required unless controller.mock is set")
	}
	if c.Controller.Baud <= 0 {
		c.Controller.Baud = 115200
	}
	if c.Controller.ReadTimeoutMs <= 0 {
		c.Controller.ReadTimeoutMs = 100
	}
	if c.Controller.QueueDepth <= 0 {
		c.Controller.QueueDepth = 16
	}
	if c.Controller.StatusIntervalMs <= 0 {
		c.Controller.StatusIntervalMs = 200
	}

	if len(c.Encoders) == 0 {
		return fmt.Errorf("at least one encoder is required")
	}
	if len(c.Encoders) > MaxEncoders {
		return fmt.Errorf("at most %d encoders are supported, got %d", MaxEncoders, len(c.Encoders))
	}
	used := make(map[int]int)
	for i := range c.Encoders {
		e := &c.Encoders[i]
		if e.PinA <= 0 || e.PinB <= 0 {
			return fmt.Errorf("encoders[%d]: pin_a and pin_b are required", i)
		}
		pins := []int{e.PinA, e.PinB}
		if e.PinButton > 0 {
			pins = append(pins, e.PinButton)
		}
		for _, p := range pins {
			if other, ok := used[p]; ok {
				return fmt.Errorf("encoders[%d]: pin %d already used by encoders[%d]", i, p, other)
			}
			used[p] = i
		}
		if e.StopTimeoutMs <= 0 {
			e.StopTimeoutMs = 100
		}
	}

	if c.SettingsFile == "" {
		c.SettingsFile = "configs/encoders.yaml"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PollInterval returns the control loop period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Machine.PollIntervalMs) * time.Millisecond
}

// StatusInterval returns the controller status polling period.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Controller.StatusIntervalMs) * time.Millisecond
}

// StopTimeout returns how long encoder i must rest before it reports a stop.
func (c *Config) StopTimeout(i int) time.Duration {
	return time.Duration(c.Encoders[i].StopTimeoutMs) * time.Millisecond
}
