package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/JogGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode selects the input configuration of a pin.
type PinMode int

const (
	Input       PinMode = iota
	InputPullUp         // open-collector encoders and push buttons
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case InputPullUp:
		return "input_pullup"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// Driver reads GPIO inputs. It allows plugging in a real Raspberry Pi
// implementation or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiDriver()
}

// MockDriver keeps pin levels in memory. Inputs idle high, as they do
// with pull-ups, until SetLevel changes them.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewMockDriver creates an empty mock driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[pin]
	if !ok {
		return Low, fmt.Errorf("pin %d not set up", pin)
	}
	return l, nil
}

// SetLevel drives a simulated input.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
