package grbl

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
)

// Status is the last known controller state.
type Status struct {
	State       string                   `json:"state"`
	MPos        [encoder.MaxAxes]float64 `json:"mpos"`
	WCO         [encoder.MaxAxes]float64 `json:"wco"`
	Feed        int                      `json:"feed_override"`
	Rapid       int                      `json:"rapid_override"`
	Spindle     int                      `json:"spindle_override"`
	Incremental bool                     `json:"incremental"`
}

// DefaultStatus is the state assumed before the first report.
func DefaultStatus() Status {
	return Status{State: "Idle", Feed: 100, Rapid: 100, Spindle: 100}
}

// MachineState maps the controller state name to the handwheel view.
func (s Status) MachineState() mpg.State {
	name, _, _ := strings.Cut(s.State, ":")
	switch name {
	case "Idle":
		return mpg.StateIdle
	case "Jog":
		return mpg.StateJog
	default:
		return mpg.StateOther
	}
}

// RapidLevel maps the rapid override percentage to its level.
func (s Status) RapidLevel() mpg.RapidLevel {
	switch {
	case s.Rapid >= 100:
		return mpg.RapidFull
	case s.Rapid > 25:
		return mpg.RapidMedium
	default:
		return mpg.RapidLow
	}
}

// ParseStatus parses a "<State|MPos:...|WCO:...|Ov:...>" report into st.
// Fields absent from the report keep their previous values. A WPos field
// is converted to machine coordinates using the known offset.
func ParseStatus(line string, st *Status) error {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return fmt.Errorf("not a status report: %q", line)
	}
	fields := strings.Split(line[1:len(line)-1], "|")
	if fields[0] == "" {
		return fmt.Errorf("status report without state: %q", line)
	}
	st.State = fields[0]

	var wpos []float64
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		switch key {
		case "MPos":
			v, err := parseFloats(val)
			if err != nil {
				return fmt.Errorf("MPos: %w", err)
			}
			copy(st.MPos[:], v)
		case "WPos":
			v, err := parseFloats(val)
			if err != nil {
				return fmt.Errorf("WPos: %w", err)
			}
			wpos = v
		case "WCO":
			v, err := parseFloats(val)
			if err != nil {
				return fmt.Errorf("WCO: %w", err)
			}
			copy(st.WCO[:], v)
		case "Ov":
			v, err := parseFloats(val)
			if err != nil || len(v) != 3 {
				return fmt.Errorf("Ov: malformed %q", val)
			}
			st.Feed, st.Rapid, st.Spindle = int(v[0]), int(v[1]), int(v[2])
		}
	}
	for i, w := range wpos {
		if i < encoder.MaxAxes {
			st.MPos[i] = w + st.WCO[i]
		}
	}
	return nil
}

// ParseModes reads the distance mode from a "[GC:...]" parser state line.
func ParseModes(line string, st *Status) bool {
	body, ok := strings.CutPrefix(line, "[GC:")
	if !ok {
		return false
	}
	for _, word := range strings.Fields(strings.TrimSuffix(body, "]")) {
		switch word {
		case "G90":
			st.Incremental = false
		case "G91":
			st.Incremental = true
		}
	}
	return true
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteReport renders st as a realtime status report for the first axes
// axes. hook may append fields before the report is closed.
func WriteReport(w io.Writer, st Status, axes int, hook mpg.ReportFunc, flags mpg.ReportFlags) {
	fmt.Fprintf(w, "<%s|MPos:%s", st.State, joinFloats(st.MPos[:axes]))
	fmt.Fprintf(w, "|WCO:%s", joinFloats(st.WCO[:axes]))
	fmt.Fprintf(w, "|Ov:%d,%d,%d", st.Feed, st.Rapid, st.Spindle)
	if hook != nil {
		hook(w, flags)
	}
	io.WriteString(w, ">")
}

func joinFloats(v []float64) string {
	var b strings.Builder
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', 3, 64))
	}
	return b.String()
}
