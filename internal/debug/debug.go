package debug

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Startup, bindings, errors
	LevelLive    = 2 // Clicks, mode changes, submitted commands
	LevelVerbose = 3 // Executor passes, strategy planning
	LevelTrace   = 4 // Every encoder sample, GPIO, realtime bytes
)

var (
	level  atomic.Int32
	logger atomic.Pointer[log.Logger]
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = startup info and errors
// 2 = live info (clicks, mode changes, commands)
// 3 = verbose (executor and strategy details)
// 4 = trace (encoder samples, GPIO, realtime bytes)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	if debugLevel > LevelOff {
		logger.Store(log.New(os.Stdout, "[JogGo] ", log.LstdFlags|log.Lmicroseconds))
	}
}

// SetOutput redirects log output, e.g. to also feed the web status stream.
func SetOutput(w io.Writer) {
	if l := logger.Load(); l != nil {
		l.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
// The encoder path checks it before formatting anything.
func IsEnabled(minLevel int) bool {
	return int(level.Load()) >= minLevel && logger.Load() != nil
}

func printf(minLevel int, format string, args ...interface{}) {
	if !IsEnabled(minLevel) {
		return
	}
	logger.Load().Printf(format, args...)
}

// Info prints a level 1 message.
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// Error prints an error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}

// Live prints a level 2 message.
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Command prints a command handed to the controller queue (level 2).
func Command(text string, accepted bool) {
	printf(LevelLive, "[LIVE] Command %q accepted=%t", text, accepted)
}

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// Section prints a section separator (level 3).
func Section(name string) {
	if !IsEnabled(LevelVerbose) {
		return
	}
	l := logger.Load()
	l.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	l.Printf("  %s", name)
	l.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered startup step (level 3).
func Step(num int, description string) {
	printf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// Sample prints a raw encoder sample (level 4).
func Sample(id int, position int32, velocity uint32) {
	printf(LevelTrace, "[TRACE] Encoder %d: pos=%d vel=%d", id, position, velocity)
}

// Realtime prints an injected realtime byte (level 4).
func Realtime(code byte) {
	printf(LevelTrace, "[TRACE] Realtime 0x%02X", code)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}
