package encoder

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode is the role an encoder plays. Ordinals are persisted in the
// settings store and must not be reordered.
type Mode int

const (
	Universal Mode = iota
	FeedRate
	RapidRate
	SpindleRPM
	MPG // one wheel shared by every axis, active axis cycled by click
	MPGX
	MPGY
	MPGZ
	MPGA
	MPGB
	MPGC
	SpindlePosition // output only, not selectable as an input mode
)

var modeNames = [...]string{
	Universal:       "universal",
	FeedRate:        "feed_rate",
	RapidRate:       "rapid_rate",
	SpindleRPM:      "spindle_rpm",
	MPG:             "mpg",
	MPGX:            "mpg_x",
	MPGY:            "mpg_y",
	MPGZ:            "mpg_z",
	MPGA:            "mpg_a",
	MPGB:            "mpg_b",
	MPGC:            "mpg_c",
	SpindlePosition: "spindle_position",
}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode parses a configuration name into a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown encoder mode %q", ErrInvalidConfiguration, s)
}

// UnmarshalYAML accepts either the ordinal used by the numeric settings
// or the configuration name.
func (m *Mode) UnmarshalYAML(n *yaml.Node) error {
	var i int
	if err := n.Decode(&i); err == nil {
		*m = Mode(i)
		return nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// IsInput reports whether the mode can be assigned to an input encoder.
func (m Mode) IsInput() bool {
	return m >= Universal && m < SpindlePosition
}

// IsOverride reports whether the mode nudges an override percentage.
func (m Mode) IsOverride() bool {
	return m == FeedRate || m == RapidRate || m == SpindleRPM
}

// IsMPG reports whether the mode jogs an axis.
func (m Mode) IsMPG() bool {
	return m >= MPG && m <= MPGC
}

// Axis returns the axis a dedicated MPG mode is bound to.
func (m Mode) Axis() (int, bool) {
	if m >= MPGX && m <= MPGC {
		return int(m - MPGX), true
	}
	return 0, false
}

// Target is what the universal encoder currently adjusts.
// It reuses the override mode values.
type Target = Mode

// NextTarget cycles FeedRate -> RapidRate -> SpindleRPM -> FeedRate.
func NextTarget(t Target) Target {
	switch t {
	case FeedRate:
		return RapidRate
	case RapidRate:
		return SpindleRPM
	default:
		return FeedRate
	}
}

// TargetName is the human-readable name used in status reports.
func TargetName(t Target) string {
	switch t {
	case FeedRate:
		return "FeedRate"
	case RapidRate:
		return "RapidRate"
	case SpindleRPM:
		return "SpindleRPM"
	default:
		return t.String()
	}
}
