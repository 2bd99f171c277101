package mpg

import (
	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
)

// injection is a realtime code repeated n times, decided inside the
// critical section and sent after it is released.
type injection struct {
	code byte
	n    int32
}

// Event processes one encoder sample. It runs in producer context: it
// never blocks and only injects realtime bytes or posts axis events.
// The critical section covers the shared counters and event flags;
// machine queries and realtime injection happen outside of it.
func (e *Engine) Event(id int, s encoder.Sample) {
	if id < 0 || id >= len(e.encoders) {
		return
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Sample(id, s.Position, s.Velocity)
	}

	// cfg and the universal binding are fixed after New.
	level := RapidFull
	if s.Changed && (e.encoders[id].cfg.Mode == encoder.RapidRate || id == e.universal) {
		level = e.machine.RapidOverride()
	}

	e.cs.lock()
	out := e.classify(id, s, level)
	e.cs.unlock()

	for _, in := range out {
		for i := int32(0); i < in.n; i++ {
			e.inject(in.code)
		}
	}
}

// classify applies one sample to the encoder state. Callers hold the
// critical section.
func (e *Engine) classify(id int, s encoder.Sample, level RapidLevel) (out [2]injection) {
	enc := &e.encoders[id]
	enc.velocity = s.Velocity
	click, dbl := s.Click, s.DoubleClick

	if click {
		switch {
		case id == e.universal:
			enc.mode = encoder.NextTarget(enc.mode)
			e.modeChanged = true
			e.reportDirty = true
			click = false

		case enc.cfg.Mode == encoder.MPG:
			// The sample is consumed: the counter restarts on the new axis.
			e.nextAxis(enc)
			return out
		}
	}

	if s.Changed {
		out[0] = e.positionChanged(enc, s, level)
	}

	if !click && !dbl {
		return out
	}
	switch {
	case enc.mode.IsOverride():
		enc.position, enc.steps = 0, 0
		e.resetter.ResetEncoder(id)
		out[1] = injection{code: resetCode(enc.mode), n: 1}

	case enc.mode.IsMPG():
		if click {
			e.box.post(enc.axis, EventScale)
		}
		if dbl {
			e.box.post(enc.axis, EventZero)
		}
	}
	return out
}

// nextAxis moves a shared wheel to the next axis. The axis it leaves
// stops tracking motion so a later visit takes a fresh baseline.
func (e *Engine) nextAxis(enc *encoderState) {
	e.slots[enc.axis].moving = false
	enc.axis = (enc.axis + 1) % e.axes
	sl := &e.slots[enc.axis]
	sl.commanded = 0
	sl.moving = false
	sl.epoch++
	enc.position, enc.steps = 0, 0
	e.box.clear(enc.axis)
	e.resetter.ResetEncoder(enc.id)
}

func (e *Engine) positionChanged(enc *encoderState, s encoder.Sample, level RapidLevel) injection {
	n := int32(int64(s.Position) * 100 / int64(enc.cfg.CPR))
	if n == enc.steps && s.Velocity != 0 {
		return injection{}
	}

	var out injection
	update := false
	switch enc.mode {
	case encoder.FeedRate:
		update = true
		out = walk(enc.steps, n, CmdFeedFinePlus, CmdFeedFineMinus)

	case encoder.SpindleRPM:
		update = true
		out = walk(enc.steps, n, CmdSpindleFinePlus, CmdSpindleFineMinus)

	case encoder.RapidRate:
		delta := int64(s.Position) - int64(enc.position)
		if delta < 0 {
			delta = -delta
		}
		update = delta >= int64(enc.cfg.CPD)
		if update {
			out = rapid(level, s.Position > enc.position)
		}

	default:
		if !enc.mode.IsMPG() || enc.axis == encoder.Unassigned {
			break
		}
		update = true
		if s.Velocity == 0 {
			e.box.post(enc.axis, EventStop)
		} else {
			e.box.post(enc.axis, EventPositionChanged)
		}
	}

	if update {
		enc.position = s.Position
		enc.steps = n
	}
	return out
}

// walk returns one fine step per quantization unit between the baseline
// and n.
func walk(steps, n int32, plus, minus byte) injection {
	if n > steps {
		return injection{code: plus, n: n - steps}
	}
	return injection{code: minus, n: steps - n}
}

// rapid moves the rapid override one level; it never skips a level.
func rapid(level RapidLevel, increase bool) injection {
	var code byte
	switch level {
	case RapidFull:
		if !increase {
			code = CmdRapidMedium
		}
	case RapidMedium:
		if increase {
			code = CmdRapidReset
		} else {
			code = CmdRapidLow
		}
	case RapidLow:
		if increase {
			code = CmdRapidMedium
		}
	}
	if code == 0 {
		return injection{}
	}
	return injection{code: code, n: 1}
}

func (e *Engine) inject(code byte) {
	if code == 0 {
		return
	}
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Realtime(code)
	}
	e.injector.Inject(code)
}

func resetCode(m encoder.Mode) byte {
	switch m {
	case encoder.FeedRate:
		return CmdFeedReset
	case encoder.RapidRate:
		return CmdRapidReset
	case encoder.SpindleRPM:
		return CmdSpindleReset
	default:
		return 0
	}
}
