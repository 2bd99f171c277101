package motion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
)

// Request is one axis's contribution to a batched handwheel move.
type Request struct {
	Axis     int
	Delta    int32   // quantized steps since the last accepted command
	Scale    float64 // distance multiplier: 1, 10 or 100
	Velocity uint32  // rate reported by the axis encoder
	Target   float64 // running absolute target before this move
}

// AxisMove is the planned motion of one axis.
type AxisMove struct {
	Axis     int
	Distance float64
	Target   float64 // new absolute target, committed only if the command is accepted
}

// Plan is a single multi-axis command ready for the controller queue.
type Plan struct {
	Command string
	Feed    uint32
	Moves   []AxisMove
}

// Strategy turns accumulated tick deltas into one motion command.
// Implementations are pure: the caller commits baselines and targets
// only after the controller accepted Plan.Command.
type Strategy interface {
	Name() string
	// Plan returns false when nothing should move (no nonzero distance
	// or no feed rate).
	Plan(reqs []Request, incremental bool) (Plan, bool)
}

// Distance converts quantized steps into machine units.
func Distance(delta int32, scale float64) float64 {
	return float64(delta) * scale / 100
}

// ForName selects a strategy by its configuration name.
func ForName(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "relative":
		return Relative{}, nil
	case "absolute":
		return Absolute{}, nil
	default:
		return nil, fmt.Errorf("unknown motion strategy %q", name)
	}
}

// Relative emits a jog command carrying each axis distance directly.
type Relative struct{}

func (Relative) Name() string { return "relative" }

func (Relative) Plan(reqs []Request, _ bool) (Plan, bool) {
	return build("$J=G91", reqs, func(r Request, dist float64) (float64, float64) {
		return dist, r.Target + dist
	})
}

// Absolute accumulates each axis into a running target and emits a
// linear move to it. In incremental distance mode the target is left
// alone and the distance is sent as is.
type Absolute struct{}

func (Absolute) Name() string { return "absolute" }

func (Absolute) Plan(reqs []Request, incremental bool) (Plan, bool) {
	return build("G1", reqs, func(r Request, dist float64) (float64, float64) {
		if incremental {
			return dist, r.Target
		}
		target := r.Target + dist
		return target, target
	})
}

// build walks the requests in axis order, appending one word per axis
// with a nonzero delta. word returns the value written after the axis
// letter and the new running target.
func build(prefix string, reqs []Request, word func(Request, float64) (float64, float64)) (Plan, bool) {
	var (
		sb    strings.Builder
		plan  Plan
		first = true
	)
	sb.WriteString(prefix)

	for _, r := range reqs {
		if r.Delta == 0 {
			continue
		}
		dist := Distance(r.Delta, r.Scale)
		value, target := word(r, dist)

		if first || r.Velocity < plan.Feed {
			plan.Feed = r.Velocity
		}
		first = false

		sb.WriteString(encoder.AxisLetters[r.Axis])
		sb.WriteString(strconv.FormatFloat(value, 'f', 3, 64))
		plan.Moves = append(plan.Moves, AxisMove{Axis: r.Axis, Distance: dist, Target: target})
	}

	if len(plan.Moves) == 0 || plan.Feed == 0 {
		debug.Verbose("Strategy %s: not moving (axes=%d feed=%d)", prefix, len(plan.Moves), plan.Feed)
		return Plan{}, false
	}

	sb.WriteString("F")
	sb.WriteString(strconv.FormatUint(uint64(plan.Feed), 10))
	plan.Command = sb.String()
	return plan, true
}
