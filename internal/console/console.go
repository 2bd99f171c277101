package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
	"github.com/cjeanneret/JogGo/internal/logic/settings"
)

// ErrQuit is returned by Execute for "quit" and "exit".
var ErrQuit = errors.New("quit")

// Engine is the handwheel engine as seen from the console.
type Engine interface {
	Event(id int, s encoder.Sample)
	ExecuteRealtime()
	Snapshot() mpg.Status
}

// Settings is the encoder settings namespace.
type Settings interface {
	Get(id int) (float64, error)
	Set(id int, value float64) error
	Restore()
	Report(w io.Writer) error
}

// Console is a line-oriented operator shell used to simulate encoder
// samples and inspect or edit settings without hardware.
type Console struct {
	Engine   Engine
	Settings Settings
	Report   func(w io.Writer) // optional
	Persist  func() error      // optional

	// SetMachineState forces the simulated controller state. Nil with a
	// real controller.
	SetMachineState func(state string)
}

const help = `commands:
  sample <encoder> <position> [velocity]  deliver a position sample (velocity defaults to 1)
  stop <encoder> <position>               deliver a zero-velocity sample
  click <encoder>                         single click
  dbl <encoder>                           double click
  run                                     run the realtime executor once
  state                                   show per-axis handwheel state
  report                                  show a status report
  settings                                list encoder settings
  get <id>                                show one setting, e.g. get 403
  set <id> <value>                        change a setting, e.g. set $403=250 or set 400 mpg_x
  restore                                 restore default settings
  machine <state>                         force the simulated controller state, e.g. Run or Idle
  help                                    this text
  quit                                    leave the console`

// Run reads commands from r until EOF, "quit" or ctx cancellation.
func (c *Console) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(w, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		err := c.Execute(sc.Text(), w)
		switch {
		case errors.Is(err, ErrQuit):
			return nil
		case err != nil:
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}

// Execute parses and runs a single command line.
func (c *Console) Execute(line string, w io.Writer) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	// "$403=250" is accepted as shorthand for "set 403 250".
	if strings.HasPrefix(args[0], "$") && strings.Contains(args[0], "=") {
		id, v, _ := strings.Cut(args[0][1:], "=")
		args = []string{"set", id, v}
	}

	cmd := strings.ToLower(args[0])
	switch cmd {
	case "sample", "stop":
		if err := c.sample(cmd, args); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")
	case "click", "dbl":
		id, err := needInt(args, 1, "encoder")
		if err != nil {
			return err
		}
		c.Engine.Event(id, encoder.Sample{Click: cmd == "click", DoubleClick: cmd == "dbl"})
		fmt.Fprintln(w, "ok")
	case "run":
		c.Engine.ExecuteRealtime()
		fmt.Fprintln(w, "ok")
	case "state":
		st := c.Engine.Snapshot()
		if st.OverrideTarget != "" {
			fmt.Fprintf(w, "override target: %s\n", st.OverrideTarget)
		}
		fmt.Fprintf(w, "strategy: %s\n", st.Strategy)
		for _, a := range st.Axes {
			fmt.Fprintf(w, "%s enc=%d active=%t scale=x%g moving=%t pending=%t commanded=%d target=%.3f\n",
				a.Axis, a.Encoder, a.Active, a.Scale, a.Moving, a.Pending, a.Commanded, a.Target)
		}
	case "report":
		if c.Report == nil {
			return fmt.Errorf("no controller")
		}
		c.Report(w)
		fmt.Fprintln(w)
	case "settings", "$$":
		return c.Settings.Report(w)
	case "get":
		id, err := needInt(args, 1, "setting id")
		if err != nil {
			return err
		}
		v, err := c.Settings.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "$%d=%g\n", id, v)
	case "set":
		id, err := needInt(args, 1, "setting id")
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("missing value")
		}
		v, err := parseValue(id, args[2])
		if err != nil {
			return err
		}
		if err := c.Settings.Set(id, v); err != nil {
			return err
		}
		if err := c.persist(); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok (restart to apply)")
	case "restore":
		c.Settings.Restore()
		if err := c.persist(); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok (restart to apply)")
	case "machine":
		if c.SetMachineState == nil {
			return fmt.Errorf("no simulated controller")
		}
		if len(args) < 2 {
			return fmt.Errorf("missing state")
		}
		c.SetMachineState(args[1])
		fmt.Fprintln(w, "ok")
	case "help", "?":
		fmt.Fprintln(w, help)
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return nil
}

func (c *Console) sample(cmd string, args []string) error {
	id, err := needInt(args, 1, "encoder")
	if err != nil {
		return err
	}
	pos, err := needInt(args, 2, "position")
	if err != nil {
		return err
	}
	vel := 1
	if cmd == "stop" {
		vel = 0
	} else if len(args) > 3 {
		if vel, err = needInt(args, 3, "velocity"); err != nil {
			return err
		}
		if vel < 0 {
			return fmt.Errorf("velocity must be >= 0")
		}
	}
	c.Engine.Event(id, encoder.Sample{Position: int32(pos), Velocity: uint32(vel), Changed: true})
	return nil
}

func (c *Console) persist() error {
	if c.Persist == nil {
		return nil
	}
	if err := c.Persist(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// parseValue reads a setting value. Mode fields also take a mode name.
func parseValue(id int, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return v, nil
	}
	if id >= settings.Base && (id-settings.Base)%settings.Stride == settings.FieldMode {
		if m, err := encoder.ParseMode(s); err == nil {
			return float64(m), nil
		}
	}
	return 0, fmt.Errorf("invalid value %q", s)
}

func needInt(args []string, i int, name string) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.Atoi(strings.TrimPrefix(args[i], "$"))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return v, nil
}
