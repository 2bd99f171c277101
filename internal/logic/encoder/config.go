package encoder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration is returned when a setting is outside its domain.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrUnassignedAxis is returned when an MPG mode references an axis
	// that does not exist on the machine.
	ErrUnassignedAxis = errors.New("unassigned axis")
)

const (
	DefaultCPR               = 400
	DefaultCPD               = 4
	DefaultDoubleClickWindow = 500 // ms

	MinDoubleClickWindow = 100 // ms
	MaxDoubleClickWindow = 900 // ms
)

// Config holds the persisted settings of one encoder slot.
type Config struct {
	Mode              Mode   `yaml:"mode"`
	CPR               uint32 `yaml:"cpr"`                // counts per revolution
	CPD               uint32 `yaml:"cpd"`                // counts per detent
	DoubleClickWindow uint32 `yaml:"dbl_click_window_ms"`
}

// DefaultConfig returns the factory settings for an encoder slot.
func DefaultConfig() Config {
	return Config{
		Mode:              Universal,
		CPR:               DefaultCPR,
		CPD:               DefaultCPD,
		DoubleClickWindow: DefaultDoubleClickWindow,
	}
}

// Validate checks every field against its domain.
func (c Config) Validate() error {
	if !c.Mode.IsInput() {
		return fmt.Errorf("%w: mode %d is not an input mode", ErrInvalidConfiguration, c.Mode)
	}
	if c.CPR == 0 {
		return fmt.Errorf("%w: cpr must be > 0", ErrInvalidConfiguration)
	}
	if c.CPD == 0 {
		return fmt.Errorf("%w: cpd must be > 0", ErrInvalidConfiguration)
	}
	if c.DoubleClickWindow < MinDoubleClickWindow || c.DoubleClickWindow > MaxDoubleClickWindow {
		return fmt.Errorf("%w: dbl_click_window must be between %d and %d ms, got %d",
			ErrInvalidConfiguration, MinDoubleClickWindow, MaxDoubleClickWindow, c.DoubleClickWindow)
	}
	return nil
}

// DoubleClick returns the double-click window as a duration.
func (c Config) DoubleClick() time.Duration {
	return time.Duration(c.DoubleClickWindow) * time.Millisecond
}

// Sample is one already-debounced reading delivered by the hardware layer.
type Sample struct {
	Position    int32  // raw tick count
	Velocity    uint32 // device-reported rate, 0 = stopped
	Changed     bool   // position moved, or the wheel just stopped
	Click       bool
	DoubleClick bool
}
