package settings

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/JogGo/internal/logic/encoder"
)

// Setting ids are partitioned per encoder slot: id = Base + slot*Stride + field.
const (
	Base   = 400
	Stride = 10
)

// Field indexes inside an encoder slot.
const (
	FieldMode = iota
	FieldCPR
	FieldCPD
	FieldDoubleClickWindow
	fieldCount
)

// ErrUnhandled means the id does not belong to the encoder namespace,
// so another settings handler may claim it.
var ErrUnhandled = errors.New("setting not handled")

// Store holds the per-encoder settings.
type Store struct {
	mu       sync.RWMutex
	encoders []encoder.Config
	axes     int
}

// NewStore creates a store for n encoder slots with factory defaults.
// Axis bindings are checked against a machine with every axis until
// SetAxes is called.
func NewStore(n int) *Store {
	s := &Store{encoders: make([]encoder.Config, n), axes: encoder.MaxAxes}
	s.Restore()
	return s
}

// SetAxes sets the machine axis count used to check axis bindings.
func (s *Store) SetAxes(n int) {
	s.mu.Lock()
	s.axes = n
	s.mu.Unlock()
}

// checkBindings rejects settings that could not be bound at startup,
// such as two encoders on the same axis. Callers hold s.mu.
func (s *Store) checkBindings(cfgs []encoder.Config) error {
	_, err := encoder.NewRegistry(cfgs, s.axes)
	return err
}

// Len returns the number of encoder slots.
func (s *Store) Len() int {
	return len(s.encoders)
}

// locate splits a setting id into its slot and field.
func (s *Store) locate(id int) (slot, field int, err error) {
	if id < Base || id >= Base+len(s.encoders)*Stride {
		return 0, 0, fmt.Errorf("%w: $%d", ErrUnhandled, id)
	}
	field = (id - Base) % Stride
	slot = (id - Base) / Stride
	if field >= fieldCount {
		return 0, 0, fmt.Errorf("%w: $%d", ErrUnhandled, id)
	}
	return slot, field, nil
}

// ID returns the setting id of a slot field.
func ID(slot, field int) int {
	return Base + slot*Stride + field
}

// Get returns the value of a setting.
func (s *Store) Get(id int) (float64, error) {
	slot, field, err := s.locate(id)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.encoders[slot]
	switch field {
	case FieldMode:
		return float64(c.Mode), nil
	case FieldCPR:
		return float64(c.CPR), nil
	case FieldCPD:
		return float64(c.CPD), nil
	default:
		return float64(c.DoubleClickWindow), nil
	}
}

// Set validates and stores a setting. On error the stored value is unchanged.
func (s *Store) Set(id int, value float64) error {
	slot, field, err := s.locate(id)
	if err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) || value < 0 || value > math.MaxUint32 {
		return fmt.Errorf("%w: $%d=%g is not a non-negative integer", encoder.ErrInvalidConfiguration, id, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.encoders[slot]
	switch field {
	case FieldMode:
		c.Mode = encoder.Mode(value)
	case FieldCPR:
		c.CPR = uint32(value)
	case FieldCPD:
		c.CPD = uint32(value)
	default:
		c.DoubleClickWindow = uint32(value)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("$%d: %w", id, err)
	}
	next := make([]encoder.Config, len(s.encoders))
	copy(next, s.encoders)
	next[slot] = c
	if err := s.checkBindings(next); err != nil {
		return fmt.Errorf("$%d: %w", id, err)
	}
	s.encoders[slot] = c
	return nil
}

// Restore resets every slot to the factory defaults.
func (s *Store) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.encoders {
		s.encoders[i] = encoder.DefaultConfig()
	}
}

// Report writes one "$id=value" line per encoder setting.
func (s *Store) Report(w io.Writer) error {
	for slot := 0; slot < len(s.encoders); slot++ {
		for field := 0; field < fieldCount; field++ {
			if err := s.ReportSetting(w, ID(slot, field)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReportSetting writes a single "$id=value" line.
func (s *Store) ReportSetting(w io.Writer, id int) error {
	v, err := s.Get(id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "$%d=%d\n", id, uint32(v))
	return err
}

// Configs returns a copy of every slot's settings.
func (s *Store) Configs() []encoder.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]encoder.Config, len(s.encoders))
	copy(out, s.encoders)
	return out
}

// file is the persisted YAML layout.
type file struct {
	Encoders []encoder.Config `yaml:"encoders"`
}

// Load reads persisted settings. Slots missing from the file keep their
// current values; extra entries are ignored.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]encoder.Config, len(s.encoders))
	copy(next, s.encoders)
	for i, c := range f.Encoders {
		if i >= len(next) {
			break
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("encoder %d: %w", i, err)
		}
		next[i] = c
	}
	if err := s.checkBindings(next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s.encoders = next
	return nil
}

// Save writes the settings to path.
func (s *Store) Save(path string) error {
	data, err := yaml.Marshal(file{Encoders: s.Configs()})
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
