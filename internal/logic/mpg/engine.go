package mpg

import (
	"errors"
	"fmt"
	"io"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/motion"
)

// ErrCommandRejected is logged when the controller queue declines a
// zero or motion command. The triggering events are kept for a retry.
var ErrCommandRejected = errors.New("command rejected")

// encoderState is the runtime view of one physical encoder.
type encoderState struct {
	id       int
	cfg      encoder.Config
	mode     encoder.Mode // runtime mode, cycled for the universal encoder
	axis     int          // active axis, or encoder.Unassigned
	position int32        // last committed raw tick count
	steps    int32        // quantized baseline: position*100/cpr
	velocity uint32
}

// slot is the per-axis handwheel state.
type slot struct {
	encoder   int     // bound encoder id, or encoder.Unassigned
	commanded int32   // steps already turned into motion
	scale     float64 // 1, 10 or 100
	target    float64 // running absolute target
	moving    bool
	epoch     uint32 // bumped whenever counters are reset
}

// Options wires an Engine to its collaborators.
type Options struct {
	Registry  *encoder.Registry
	Submitter Submitter
	Injector  Injector
	Machine   Machine
	Resetter  Resetter        // optional
	Notifier  Notifier        // optional
	Strategy  motion.Strategy // defaults to motion.Relative
}

// Engine classifies encoder samples and turns them into override nudges
// and handwheel motion.
//
// Event is the producer side and may be called from an interrupt
// handler or any goroutine. ExecuteRealtime is the consumer side and
// must only be called from the control loop.
type Engine struct {
	cs criticalSection

	axes      int
	encoders  []encoderState
	slots     [encoder.MaxAxes]slot
	box       mailbox
	universal int

	modeChanged bool
	reportDirty bool

	submitter Submitter
	injector  Injector
	machine   Machine
	resetter  Resetter
	notifier  Notifier
	strategy  motion.Strategy

	prevReport ReportFunc
}

// New builds an engine from the registry bindings and resets every
// hardware counter.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("mpg: registry is required")
	}
	if opts.Submitter == nil || opts.Injector == nil || opts.Machine == nil {
		return nil, fmt.Errorf("mpg: submitter, injector and machine are required")
	}

	e := &Engine{
		axes:      opts.Registry.Axes(),
		encoders:  make([]encoderState, opts.Registry.Len()),
		submitter: opts.Submitter,
		injector:  opts.Injector,
		machine:   opts.Machine,
		resetter:  opts.Resetter,
		notifier:  opts.Notifier,
		strategy:  opts.Strategy,
	}
	if e.resetter == nil {
		e.resetter = ResetterFunc(func(int) {})
	}
	if e.notifier == nil {
		e.notifier = NotifierFunc(func(string) {})
	}
	if e.strategy == nil {
		e.strategy = motion.Relative{}
	}
	e.universal, _ = opts.Registry.Universal()

	for id := range e.encoders {
		b := opts.Registry.Binding(id)
		e.encoders[id] = encoderState{id: id, cfg: b.Config, mode: b.Mode, axis: b.Axis}
		e.resetter.ResetEncoder(id)
		debug.Info("Encoder %d: mode=%s axis=%d cpr=%d cpd=%d", id, b.Config.Mode, b.Axis, b.Config.CPR, b.Config.CPD)
	}
	for axis := range e.slots {
		id, _ := opts.Registry.AxisEncoder(axis)
		e.slots[axis] = slot{encoder: id, scale: 1}
	}

	return e, nil
}

// SetStrategy swaps the motion strategy used for later batches.
func (e *Engine) SetStrategy(s motion.Strategy) {
	e.cs.lock()
	e.strategy = s
	e.cs.unlock()
}

// OverrideTarget returns what the universal encoder currently adjusts.
func (e *Engine) OverrideTarget() (encoder.Target, bool) {
	e.cs.lock()
	defer e.cs.unlock()
	if e.universal == encoder.Unassigned {
		return 0, false
	}
	return e.encoders[e.universal].mode, true
}

// AxisStatus is a point-in-time view of one axis slot.
type AxisStatus struct {
	Axis      string  `json:"axis"`
	Encoder   int     `json:"encoder"`
	Active    bool    `json:"active"`
	Scale     float64 `json:"scale"`
	Moving    bool    `json:"moving"`
	Pending   bool    `json:"pending"`
	Commanded int32   `json:"commanded"`
	Target    float64 `json:"target"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	OverrideTarget string       `json:"override_target,omitempty"`
	Strategy       string       `json:"strategy"`
	Axes           []AxisStatus `json:"axes"`
}

// Snapshot returns the current engine state for reporting.
func (e *Engine) Snapshot() Status {
	e.cs.lock()
	defer e.cs.unlock()

	st := Status{Strategy: e.strategy.Name(), Axes: make([]AxisStatus, 0, e.axes)}
	if e.universal != encoder.Unassigned {
		st.OverrideTarget = encoder.TargetName(e.encoders[e.universal].mode)
	}
	for axis := 0; axis < e.axes; axis++ {
		sl := e.slots[axis]
		as := AxisStatus{
			Axis:      encoder.AxisLetters[axis],
			Encoder:   sl.encoder,
			Scale:     sl.scale,
			Moving:    sl.moving,
			Pending:   e.box.pending.Has(axis),
			Commanded: sl.commanded,
			Target:    sl.target,
		}
		if sl.encoder != encoder.Unassigned {
			as.Active = e.encoders[sl.encoder].axis == axis
		}
		st.Axes = append(st.Axes, as)
	}
	return st
}

// ReportFlags selects optional status report fields.
type ReportFlags struct {
	Encoder bool
}

// ReportFunc appends fields to a realtime status report.
type ReportFunc func(w io.Writer, flags ReportFlags)

// ChainReport registers prev to run after the engine's own fields and
// returns the engine hook to install in its place.
func (e *Engine) ChainReport(prev ReportFunc) ReportFunc {
	e.cs.lock()
	e.prevReport = prev
	e.cs.unlock()
	return e.Report
}

// Report appends "|Enc:<target>" when a universal encoder exists and the
// report asks for it or the target changed since the last report.
func (e *Engine) Report(w io.Writer, flags ReportFlags) {
	e.cs.lock()
	dirty := e.reportDirty
	e.reportDirty = false
	universal := e.universal
	var target encoder.Target
	if universal != encoder.Unassigned {
		target = e.encoders[universal].mode
	}
	prev := e.prevReport
	e.cs.unlock()

	if universal != encoder.Unassigned && (flags.Encoder || dirty) {
		fmt.Fprintf(w, "|Enc:%s", encoder.TargetName(target))
	}
	if prev != nil {
		prev(w, flags)
	}
}
