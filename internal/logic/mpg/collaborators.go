package mpg

// State is the control-loop state as far as the handwheel cares.
type State int

const (
	StateIdle State = iota
	StateJog
	StateOther // running a program, hold, alarm, homing, ...
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateJog:
		return "Jog"
	default:
		return "Other"
	}
}

// RapidLevel is the current rapid override step.
type RapidLevel int

const (
	RapidFull RapidLevel = iota // 100%
	RapidMedium                 // 50%
	RapidLow                    // 25%
)

// Submitter queues a command line on the controller. It must not block;
// returning false (queue full, device busy) is a normal outcome.
type Submitter interface {
	Submit(line string) bool
}

// Injector sends a single-byte realtime command. Fire and forget.
type Injector interface {
	Inject(code byte)
}

// Resetter zeroes the hardware tick counter of an encoder.
type Resetter interface {
	ResetEncoder(id int)
}

// Machine exposes the controller state the engine needs.
type Machine interface {
	State() State
	Position(axis int) float64   // machine position
	WorkOffset(axis int) float64 // active work coordinate offset
	Incremental() bool           // G91 active
	RapidOverride() RapidLevel
}

// Notifier receives operator messages such as mode changes.
type Notifier interface {
	Notify(msg string)
}

// ResetterFunc adapts a function to the Resetter interface.
type ResetterFunc func(id int)

func (f ResetterFunc) ResetEncoder(id int) { f(id) }

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(msg string)

func (f NotifierFunc) Notify(msg string) { f(msg) }

// Realtime command bytes.
const (
	CmdJogCancel        byte = 0x85
	CmdFeedReset        byte = 0x90
	CmdFeedFinePlus     byte = 0x93
	CmdFeedFineMinus    byte = 0x94
	CmdRapidReset       byte = 0x95
	CmdRapidMedium      byte = 0x96
	CmdRapidLow         byte = 0x97
	CmdSpindleReset     byte = 0x99
	CmdSpindleFinePlus  byte = 0x9C
	CmdSpindleFineMinus byte = 0x9D
	CmdStatusReport     byte = '?'
)
