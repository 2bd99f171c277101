package grbl

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
)

// Simulator is an in-memory grbl controller used in mock mode. Moves
// complete instantly; a jog is reported as "Jog" by the next status
// report and then returns to "Idle".
type Simulator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	line   []byte
	closed bool

	axes    int
	st      Status
	jogging bool
}

// NewSimulator creates a controller with axes axes at machine zero.
func NewSimulator(axes int) *Simulator {
	s := &Simulator{axes: axes, st: DefaultStatus()}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Read returns controller output, blocking until some is available.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(p)
}

// Write feeds host bytes to the controller.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	for _, b := range p {
		switch {
		case b == '?' || b >= 0x80:
			s.realtime(b)
		case b == '\r':
		case b == '\n':
			s.execute(string(s.line))
			s.line = s.line[:0]
		default:
			s.line = append(s.line, b)
		}
	}
	s.cond.Broadcast()
	return len(p), nil
}

// Close unblocks readers.
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Snapshot returns the simulated controller state.
func (s *Simulator) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// SetState forces the reported state, e.g. "Run" or "Hold:0".
func (s *Simulator) SetState(state string) {
	s.mu.Lock()
	s.st.State = state
	s.mu.Unlock()
}

func (s *Simulator) realtime(b byte) {
	switch b {
	case mpg.CmdStatusReport:
		WriteReport(&s.out, s.st, s.axes, nil, mpg.ReportFlags{})
		s.out.WriteByte('\n')
		if s.jogging {
			s.jogging = false
			s.st.State = "Idle"
		}
	case mpg.CmdJogCancel:
		if s.st.State == "Jog" {
			s.jogging = false
			s.st.State = "Idle"
		}
	case mpg.CmdFeedReset:
		s.st.Feed = 100
	case 0x91, 0x92, mpg.CmdFeedFinePlus, mpg.CmdFeedFineMinus:
		s.st.Feed = nudge(s.st.Feed, b-0x91)
	case mpg.CmdRapidReset:
		s.st.Rapid = 100
	case mpg.CmdRapidMedium:
		s.st.Rapid = 50
	case mpg.CmdRapidLow:
		s.st.Rapid = 25
	case mpg.CmdSpindleReset:
		s.st.Spindle = 100
	case 0x9A, 0x9B, mpg.CmdSpindleFinePlus, mpg.CmdSpindleFineMinus:
		s.st.Spindle = nudge(s.st.Spindle, b-0x9A)
	}
}

// nudge applies the n-th of the +10, -10, +1, -1 override steps.
func nudge(v int, n byte) int {
	v += [...]int{10, -10, 1, -1}[n]
	return min(max(v, 10), 200)
}

func (s *Simulator) execute(line string) {
	line = strings.ToUpper(strings.TrimSpace(line))
	var err error
	switch {
	case line == "":
	case line == "$G":
		mode := "G90"
		if s.st.Incremental {
			mode = "G91"
		}
		fmt.Fprintf(&s.out, "[GC:G0 G54 G17 G21 %s G94 M5 M9 T0 F0 S0]\n", mode)
	case strings.HasPrefix(line, "$J="):
		err = s.jog(line[3:])
	case strings.HasPrefix(line, "$"):
		err = errUnsupported
	default:
		err = s.gcode(line)
	}
	if err != nil {
		debug.Verbose("Simulator: %q: %v", line, err)
		fmt.Fprintf(&s.out, "error:%d\n", errorCode(err))
		return
	}
	s.out.WriteString("ok\n")
}

type word struct {
	letter byte
	value  float64
}

type codeError struct {
	code int
	msg  string
}

func (e *codeError) Error() string { return e.msg }

var (
	errUnsupported = &codeError{3, "unsupported statement"}
	errBadNumber   = &codeError{2, "bad number format"}
	errNoFeed      = &codeError{22, "feed rate not set"}
	errNoAxis      = &codeError{26, "no axis words"}
)

func errorCode(err error) int {
	if ce, ok := err.(*codeError); ok {
		return ce.code
	}
	return 1
}

func parseWords(line string) ([]word, error) {
	var words []word
	for i := 0; i < len(line); {
		letter := line[i]
		if letter < 'A' || letter > 'Z' {
			return nil, errBadNumber
		}
		j := i + 1
		for j < len(line) && (line[j] == '-' || line[j] == '+' || line[j] == '.' || (line[j] >= '0' && line[j] <= '9')) {
			j++
		}
		v, err := strconv.ParseFloat(line[i+1:j], 64)
		if err != nil {
			return nil, errBadNumber
		}
		words = append(words, word{letter, v})
		i = j
	}
	return words, nil
}

func (s *Simulator) axisIndex(letter byte) int {
	i := strings.IndexByte("XYZABC", letter)
	if i >= s.axes {
		return -1
	}
	return i
}

// jog applies a "$J=" body. Distance mode is local to the jog line.
func (s *Simulator) jog(body string) error {
	words, err := parseWords(body)
	if err != nil {
		return err
	}
	incremental := s.st.Incremental
	var feed bool
	var target [encoder.MaxAxes]float64
	var set [encoder.MaxAxes]bool
	for _, w := range words {
		switch {
		case w.letter == 'G' && w.value == 90:
			incremental = false
		case w.letter == 'G' && w.value == 91:
			incremental = true
		case w.letter == 'F':
			feed = w.value > 0
		case s.axisIndex(w.letter) >= 0:
			i := s.axisIndex(w.letter)
			target[i], set[i] = w.value, true
		default:
			return errUnsupported
		}
	}
	if !feed {
		return errNoFeed
	}
	if set == ([encoder.MaxAxes]bool{}) {
		return errNoAxis
	}
	s.moveTo(target, set, incremental)
	s.jogging = true
	s.st.State = "Jog"
	return nil
}

func (s *Simulator) gcode(line string) error {
	words, err := parseWords(line)
	if err != nil {
		return err
	}
	var (
		target    [encoder.MaxAxes]float64
		set       [encoder.MaxAxes]bool
		setOffset bool
		motion    bool
	)
	for _, w := range words {
		switch {
		case w.letter == 'G':
			switch w.value {
			case 0, 1:
				motion = true
			case 90:
				s.st.Incremental = false
			case 91:
				s.st.Incremental = true
			case 10:
				setOffset = true
			default:
				return errUnsupported
			}
		case w.letter == 'L', w.letter == 'P', w.letter == 'F':
		case s.axisIndex(w.letter) >= 0:
			i := s.axisIndex(w.letter)
			target[i], set[i] = w.value, true
		default:
			return errUnsupported
		}
	}
	switch {
	case setOffset:
		// G10 L20: the current position becomes the given work coordinate.
		for i := range set {
			if set[i] {
				s.st.WCO[i] = s.st.MPos[i] - target[i]
			}
		}
	case motion:
		s.moveTo(target, set, s.st.Incremental)
	}
	return nil
}

func (s *Simulator) moveTo(target [encoder.MaxAxes]float64, set [encoder.MaxAxes]bool, incremental bool) {
	for i := range set {
		if !set[i] {
			continue
		}
		if incremental {
			s.st.MPos[i] += target[i]
		} else {
			s.st.MPos[i] = target[i] + s.st.WCO[i]
		}
	}
}
