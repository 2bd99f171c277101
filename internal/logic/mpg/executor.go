package mpg

import (
	"fmt"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/motion"
)

var modeMessages = map[encoder.Target]string{
	encoder.FeedRate:   "[MSG:Encoder mode feed rate]",
	encoder.RapidRate:  "[MSG:Encoder mode rapid rate]",
	encoder.SpindleRPM: "[MSG:Encoder mode spindle RPM]",
}

// ExecuteRealtime drains pending handwheel events. It is polled from the
// control loop and returns immediately unless the machine is idle or
// jogging and at least one axis has pending work. Events are never
// dropped while the machine is busy, only delayed.
func (e *Engine) ExecuteRealtime() {
	state := e.machine.State()

	e.cs.lock()
	changed := e.modeChanged
	e.modeChanged = false
	var target encoder.Target
	if e.universal != encoder.Unassigned {
		target = e.encoders[e.universal].mode
	}
	pending := e.box.pending != 0
	e.cs.unlock()

	if changed && e.universal != encoder.Unassigned {
		debug.Live("Universal encoder now adjusts %s", encoder.TargetName(target))
		e.notifier.Notify(modeMessages[target])
	}

	if !pending || (state != StateIdle && state != StateJog) {
		return
	}

	// Snapshot and release before any command formatting or submission.
	e.cs.lock()
	mask, events := e.box.drain()
	e.cs.unlock()

	debug.Verbose("Executor: state=%s pending=%06b", state, mask)

	var moves AxisMask
	for axis := 0; axis < e.axes; axis++ {
		if !mask.Has(axis) {
			continue
		}
		ev := events[axis]

		if ev&EventZero != 0 {
			e.zero(axis)
		}

		if ev&EventScale != 0 {
			e.cs.lock()
			sl := &e.slots[axis]
			sl.scale *= 10
			if sl.scale > 100 {
				sl.scale = 1
			}
			scale := sl.scale
			e.cs.unlock()
			debug.Live("Axis %s distance scale x%g", encoder.AxisLetters[axis], scale)
		}

		if ev&EventStop != 0 {
			e.cs.lock()
			sl := &e.slots[axis]
			if sl.moving && state == StateJog {
				e.inject(CmdJogCancel)
				debug.Live("Axis %s jog cancel", encoder.AxisLetters[axis])
			}
			sl.moving = false
			e.cs.unlock()
			ev &^= EventPositionChanged
		}

		if ev&EventPositionChanged != 0 {
			e.cs.lock()
			sl := &e.slots[axis]
			if sl.encoder == encoder.Unassigned || e.encoders[sl.encoder].axis != axis {
				// The shared wheel moved on before this pass.
				e.cs.unlock()
				continue
			}
			moving := sl.moving
			sl.moving = true
			e.cs.unlock()
			if !moving {
				base := e.machine.Position(axis) - e.machine.WorkOffset(axis)
				e.cs.lock()
				e.slots[axis].target = base
				e.cs.unlock()
			}
			moves |= 1 << axis
		}
	}

	if moves == 0 {
		return
	}
	if err := e.move(moves); err != nil {
		debug.Verbose("Executor: %v, retrying axes %06b", err, moves)
		e.cs.lock()
		for axis := 0; axis < e.axes; axis++ {
			if moves.Has(axis) {
				e.box.post(axis, EventPositionChanged)
			}
		}
		e.cs.unlock()
	}
}

// zero sets the work position of axis to 0. On rejection the request
// is posted again for the next pass.
func (e *Engine) zero(axis int) {
	cmd := "G90G10L20P0" + encoder.AxisLetters[axis] + "0"
	accepted := e.submitter.Submit(cmd)
	debug.Command(cmd, accepted)

	e.cs.lock()
	defer e.cs.unlock()
	if !accepted {
		e.box.post(axis, EventZero)
		return
	}
	sl := &e.slots[axis]
	sl.commanded = 0
	sl.epoch++
	if sl.encoder == encoder.Unassigned {
		return
	}
	// A shared wheel already on another axis keeps its counter: it now
	// measures that axis, which is reset when the wheel comes back here.
	if enc := &e.encoders[sl.encoder]; enc.axis == axis {
		enc.position, enc.steps = 0, 0
		e.resetter.ResetEncoder(sl.encoder)
	}
}

// move plans and submits one command for every axis in axes. Baselines
// are committed only once the controller accepted the command, and only
// for slots whose counters were not reset in the meantime.
func (e *Engine) move(axes AxisMask) error {
	var (
		buf    [encoder.MaxAxes]motion.Request
		steps  [encoder.MaxAxes]int32
		epochs [encoder.MaxAxes]uint32
	)
	reqs := buf[:0]

	e.cs.lock()
	strategy := e.strategy
	for axis := 0; axis < e.axes; axis++ {
		sl := &e.slots[axis]
		if !axes.Has(axis) || sl.encoder == encoder.Unassigned {
			continue
		}
		enc := &e.encoders[sl.encoder]
		if enc.axis != axis {
			continue // shared wheel moved on to another axis
		}
		steps[axis], epochs[axis] = enc.steps, sl.epoch
		reqs = append(reqs, motion.Request{
			Axis:     axis,
			Delta:    enc.steps - sl.commanded,
			Scale:    sl.scale,
			Velocity: enc.velocity,
			Target:   sl.target,
		})
	}
	e.cs.unlock()

	plan, ok := strategy.Plan(reqs, e.machine.Incremental())
	if !ok {
		return nil
	}
	accepted := e.submitter.Submit(plan.Command)
	debug.Command(plan.Command, accepted)
	if !accepted {
		return fmt.Errorf("%w: %s", ErrCommandRejected, plan.Command)
	}

	e.cs.lock()
	for _, m := range plan.Moves {
		sl := &e.slots[m.Axis]
		if sl.epoch != epochs[m.Axis] {
			continue
		}
		sl.commanded = steps[m.Axis]
		sl.target = m.Target
	}
	e.cs.unlock()
	return nil
}
