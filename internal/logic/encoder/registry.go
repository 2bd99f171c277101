package encoder

import (
	"fmt"

	"github.com/cjeanneret/JogGo/internal/debug"
)

// MaxAxes is the largest number of logical axes a machine can have.
const MaxAxes = 6

// Unassigned marks an encoder that is not bound to an axis.
const Unassigned = -1

// AxisLetters maps axis ordinals to G-code words.
var AxisLetters = [MaxAxes]string{"X", "Y", "Z", "A", "B", "C"}

// Binding is the startup-time description of one encoder.
type Binding struct {
	ID     int
	Axis   int  // bound axis, or Unassigned
	Mode   Mode // initial runtime mode
	Config Config
}

// Registry maps encoder ids to logical roles. It is built once at
// startup; everything else refers to encoders and axes by index.
type Registry struct {
	bindings  []Binding
	axes      int
	axisOwner [MaxAxes]int
	universal int
}

// NewRegistry validates the per-encoder settings and derives the bindings.
func NewRegistry(cfgs []Config, axes int) (*Registry, error) {
	if axes < 1 || axes > MaxAxes {
		return nil, fmt.Errorf("%w: axis count must be between 1 and %d, got %d", ErrInvalidConfiguration, MaxAxes, axes)
	}

	r := &Registry{
		bindings:  make([]Binding, len(cfgs)),
		axes:      axes,
		universal: Unassigned,
	}
	for i := range r.axisOwner {
		r.axisOwner[i] = Unassigned
	}

	for id, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("encoder %d: %w", id, err)
		}
		b := Binding{ID: id, Axis: Unassigned, Mode: cfg.Mode, Config: cfg}

		switch {
		case cfg.Mode == Universal:
			// The last universal encoder takes the role; earlier ones
			// stay plain feed rate override wheels.
			if r.universal != Unassigned {
				debug.Info("Encoders %d and %d are both universal, encoder %d adjusts feed rate only", r.universal, id, r.universal)
			}
			r.universal = id
			b.Mode = FeedRate

		case cfg.Mode == MPG:
			for axis := 0; axis < axes; axis++ {
				if err := r.bind(axis, id); err != nil {
					return nil, err
				}
			}
			b.Axis = 0

		case cfg.Mode.IsMPG():
			axis, _ := cfg.Mode.Axis()
			if axis >= axes {
				return nil, fmt.Errorf("encoder %d: %w: %s on a %d-axis machine", id, ErrUnassignedAxis, cfg.Mode, axes)
			}
			if err := r.bind(axis, id); err != nil {
				return nil, err
			}
			b.Axis = axis
		}

		r.bindings[id] = b
	}

	return r, nil
}

func (r *Registry) bind(axis, id int) error {
	if owner := r.axisOwner[axis]; owner != Unassigned {
		return fmt.Errorf("%w: axis %s bound to encoders %d and %d", ErrInvalidConfiguration, AxisLetters[axis], owner, id)
	}
	r.axisOwner[axis] = id
	return nil
}

// Len returns the number of encoder slots.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Axes returns the number of logical axes.
func (r *Registry) Axes() int {
	return r.axes
}

// Binding returns the startup binding of an encoder.
func (r *Registry) Binding(id int) Binding {
	return r.bindings[id]
}

// AxisEncoder returns the encoder bound to an axis.
func (r *Registry) AxisEncoder(axis int) (int, bool) {
	if axis < 0 || axis >= r.axes {
		return Unassigned, false
	}
	id := r.axisOwner[axis]
	return id, id != Unassigned
}

// Universal returns the encoder holding the universal override role.
// Other encoders configured as universal act as feed rate wheels.
func (r *Registry) Universal() (int, bool) {
	return r.universal, r.universal != Unassigned
}
