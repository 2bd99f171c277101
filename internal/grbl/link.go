package grbl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
)

// Options configures a Link.
type Options struct {
	QueueDepth     int           // pending command lines, default 16
	StatusInterval time.Duration // '?' and "$G" polling period, 0 disables
	AckTimeout     time.Duration // default 5s
	// RetryEOF keeps reading after io.EOF. Serial ports with a read
	// timeout report EOF on an idle line.
	RetryEOF bool
}

// maxRealtimeRuns bounds the pending realtime runs. Repeated codes share
// a run, so only alternating codes can reach it.
const maxRealtimeRuns = 256

// realtimeRun is a code repeated n times.
type realtimeRun struct {
	code byte
	n    int
}

// Link talks the grbl line protocol over a byte stream. Command lines
// are queued and sent one at a time, each waiting for its "ok" or
// "error:" reply. Realtime bytes bypass the queue.
type Link struct {
	rw   io.ReadWriteCloser
	opts Options

	queue   chan string
	acks    chan string
	writeMu sync.Mutex

	rtMu   sync.Mutex
	rtRuns []realtimeRun
	rtWake chan struct{}

	mu        sync.RWMutex
	status    Status
	onStatus  func(Status)
	onMessage func(string)
}

// NewLink wraps rw. Run must be called to start the protocol.
func NewLink(rw io.ReadWriteCloser, opts Options) *Link {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 16
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	return &Link{
		rw:       rw,
		opts:     opts,
		queue:  make(chan string, opts.QueueDepth),
		acks:   make(chan string, opts.QueueDepth),
		rtWake: make(chan struct{}, 1),
		status: DefaultStatus(),
	}
}

// OnStatus registers a callback invoked after every parsed status report.
func (l *Link) OnStatus(fn func(Status)) {
	l.mu.Lock()
	l.onStatus = fn
	l.mu.Unlock()
}

// OnMessage registers a callback for "[MSG:...]" and alarm lines.
func (l *Link) OnMessage(fn func(string)) {
	l.mu.Lock()
	l.onMessage = fn
	l.mu.Unlock()
}

// Submit queues a command line. It never blocks: a full queue rejects.
func (l *Link) Submit(line string) bool {
	select {
	case l.queue <- line:
		return true
	default:
		return false
	}
}

// Inject sends a realtime byte ahead of any queued line. It never
// blocks: consecutive identical codes are counted rather than buffered,
// so a burst of override steps is never lost.
func (l *Link) Inject(code byte) {
	l.rtMu.Lock()
	if n := len(l.rtRuns); n > 0 && l.rtRuns[n-1].code == code {
		l.rtRuns[n-1].n++
	} else if n < maxRealtimeRuns {
		l.rtRuns = append(l.rtRuns, realtimeRun{code: code, n: 1})
	} else {
		l.rtMu.Unlock()
		debug.Error(fmt.Errorf("realtime buffer full, dropping 0x%02X", code))
		return
	}
	l.rtMu.Unlock()

	select {
	case l.rtWake <- struct{}{}:
	default:
	}
}

// stepCode reports whether every repetition of code has an effect.
// Other realtime codes are idempotent and sent once per run.
func stepCode(code byte) bool {
	switch code {
	case 0x91, 0x92, mpg.CmdFeedFinePlus, mpg.CmdFeedFineMinus,
		0x9A, 0x9B, mpg.CmdSpindleFinePlus, mpg.CmdSpindleFineMinus:
		return true
	}
	return false
}

// Status returns the last known controller state.
func (l *Link) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// State implements mpg.Machine.
func (l *Link) State() mpg.State { return l.Status().MachineState() }

// Position implements mpg.Machine.
func (l *Link) Position(axis int) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status.MPos[axis]
}

// WorkOffset implements mpg.Machine.
func (l *Link) WorkOffset(axis int) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status.WCO[axis]
}

// Incremental implements mpg.Machine.
func (l *Link) Incremental() bool { return l.Status().Incremental }

// RapidOverride implements mpg.Machine.
func (l *Link) RapidOverride() mpg.RapidLevel { return l.Status().RapidLevel() }

// Run drives the link until ctx is cancelled or the stream fails. The
// stream is closed on return.
func (l *Link) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.readLoop(ctx)
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.realtimeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		l.writeLoop(ctx)
	}()
	if l.opts.StatusInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.pollLoop(ctx)
		}()
	}

	<-ctx.Done()
	closeErr := l.rw.Close()
	wg.Wait()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-time.After(time.Second):
	}
	if closeErr != nil {
		return fmt.Errorf("close stream: %w", closeErr)
	}
	return nil
}

func (l *Link) write(p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.rw.Write(p)
	return err
}

func (l *Link) realtimeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.rtWake:
		}

		l.rtMu.Lock()
		runs := l.rtRuns
		l.rtRuns = nil
		l.rtMu.Unlock()

		var out []byte
		for _, r := range runs {
			n := 1
			if stepCode(r.code) {
				n = r.n
			}
			for i := 0; i < n; i++ {
				out = append(out, r.code)
			}
		}
		if len(out) == 0 {
			continue
		}
		if err := l.write(out); err != nil {
			debug.Error(fmt.Errorf("realtime write % X: %v", out, err))
		}
	}
}

func (l *Link) writeLoop(ctx context.Context) {
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case line = <-l.queue:
		}

		if err := l.write([]byte(line + "\n")); err != nil {
			debug.Error(fmt.Errorf("write %q: %v", line, err))
			continue
		}
		select {
		case <-ctx.Done():
			return
		case reply := <-l.acks:
			if reply != "ok" {
				debug.Error(fmt.Errorf("controller rejected %q: %s", line, reply))
			}
		case <-time.After(l.opts.AckTimeout):
			debug.Error(fmt.Errorf("no reply to %q after %s", line, l.opts.AckTimeout))
		}
	}
}

func (l *Link) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(l.opts.StatusInterval)
	defer ticker.Stop()
	l.Submit("$G")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Inject(mpg.CmdStatusReport)
			// Parser state changes rarely; only ask when the queue is idle.
			if len(l.queue) == 0 {
				l.Submit("$G")
			}
		}
	}
}

func (l *Link) readLoop(ctx context.Context) error {
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := l.rw.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case '\r':
			case '\n':
				if len(line) > 0 {
					l.handleLine(string(line))
					line = line[:0]
				}
			default:
				line = append(line, b)
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) && l.opts.RetryEOF {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return fmt.Errorf("read controller: %w", err)
	}
}

func (l *Link) handleLine(line string) {
	switch {
	case line == "ok" || strings.HasPrefix(line, "error:"):
		select {
		case l.acks <- line:
		default:
			debug.Verbose("Unsolicited reply %q", line)
		}

	case strings.HasPrefix(line, "<"):
		l.mu.Lock()
		st := l.status
		err := ParseStatus(line, &st)
		if err == nil {
			l.status = st
		}
		fn := l.onStatus
		l.mu.Unlock()
		if err != nil {
			debug.Error(err)
			return
		}
		debug.Trace("Status %s", line)
		if fn != nil {
			fn(st)
		}

	case strings.HasPrefix(line, "[GC:"):
		l.mu.Lock()
		ParseModes(line, &l.status)
		l.mu.Unlock()

	case strings.HasPrefix(line, "[MSG:"), strings.HasPrefix(line, "ALARM:"):
		debug.Live("Controller: %s", line)
		l.mu.RLock()
		fn := l.onMessage
		l.mu.RUnlock()
		if fn != nil {
			fn(line)
		}

	default:
		debug.Verbose("Controller: %s", line)
	}
}
