package quadrature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/hw/gpio"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
)

// transitions maps (previous AB << 2 | current AB) to a count delta.
// Illegal double transitions count as 0.
var transitions = [16]int8{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// Config describes one encoder's wiring and timing.
type Config struct {
	PinA      int
	PinB      int
	PinButton int // 0 = no push button

	// StopTimeout is how long the count must stay still before a
	// zero-velocity sample is reported.
	StopTimeout       time.Duration
	DoubleClickWindow time.Duration
}

// Reader decodes one quadrature encoder with an optional push button.
type Reader struct {
	drv gpio.Driver
	cfg Config

	mu         sync.Mutex
	ab         uint8
	count      int32
	reported   int32
	lastSample time.Time
	lastMove   time.Time
	moving     bool

	button   gpio.Level
	pressed  bool
	clickAt  time.Time // first press of a pending click
	clicking bool
}

// NewReader configures the pins of one encoder.
func NewReader(drv gpio.Driver, cfg Config) (*Reader, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 100 * time.Millisecond
	}
	if cfg.DoubleClickWindow <= 0 {
		cfg.DoubleClickWindow = encoder.DefaultDoubleClickWindow * time.Millisecond
	}
	pins := []int{cfg.PinA, cfg.PinB}
	if cfg.PinButton != 0 {
		pins = append(pins, cfg.PinButton)
	}
	for _, p := range pins {
		if err := drv.SetupPin(p, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("setup pin %d: %w", p, err)
		}
	}

	r := &Reader{drv: drv, cfg: cfg, button: gpio.High}
	ab, err := r.readAB()
	if err != nil {
		return nil, err
	}
	r.ab = ab
	return r, nil
}

func (r *Reader) readAB() (uint8, error) {
	a, err := r.drv.ReadPin(r.cfg.PinA)
	if err != nil {
		return 0, err
	}
	b, err := r.drv.ReadPin(r.cfg.PinB)
	if err != nil {
		return 0, err
	}
	var ab uint8
	if a == gpio.High {
		ab |= 2
	}
	if b == gpio.High {
		ab |= 1
	}
	return ab, nil
}

// Reset zeroes the tick counter.
func (r *Reader) Reset() {
	r.mu.Lock()
	r.count, r.reported = 0, 0
	r.mu.Unlock()
}

// Count returns the raw tick counter.
func (r *Reader) Count() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Poll samples the pins at time now and returns a sample when the count
// moved, the encoder came to rest or a click was recognised.
func (r *Reader) Poll(now time.Time) (encoder.Sample, bool, error) {
	ab, err := r.readAB()
	if err != nil {
		return encoder.Sample{}, false, err
	}
	var btn gpio.Level = gpio.High
	if r.cfg.PinButton != 0 {
		if btn, err = r.drv.ReadPin(r.cfg.PinButton); err != nil {
			return encoder.Sample{}, false, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d := transitions[r.ab<<2|ab]; d != 0 {
		r.count += int32(d)
		r.lastMove = now
	}
	r.ab = ab

	var s encoder.Sample
	emit := false

	if r.count != r.reported {
		s.Changed = true
		s.Velocity = r.velocity(now)
		r.moving = true
		emit = true
	} else if r.moving && now.Sub(r.lastMove) >= r.cfg.StopTimeout {
		s.Changed = true
		r.moving = false
		emit = true
	}
	if s.Changed {
		r.reported = r.count
		r.lastSample = now
	}

	// Buttons are active low.
	if btn != r.button {
		r.button = btn
		if btn == gpio.Low {
			if r.clicking && now.Sub(r.clickAt) <= r.cfg.DoubleClickWindow {
				r.clicking = false
				s.DoubleClick = true
				emit = true
			} else {
				r.clicking = true
				r.clickAt = now
			}
		}
	}
	if r.clicking && now.Sub(r.clickAt) > r.cfg.DoubleClickWindow {
		r.clicking = false
		s.Click = true
		emit = true
	}

	s.Position = r.count
	return s, emit, nil
}

// velocity returns the counts per second since the previous sample,
// never 0 for a moving encoder.
func (r *Reader) velocity(now time.Time) uint32 {
	delta := int64(r.count) - int64(r.reported)
	if delta < 0 {
		delta = -delta
	}
	dt := now.Sub(r.lastSample)
	if r.lastSample.IsZero() || dt <= 0 {
		return uint32(delta)
	}
	v := uint64(delta) * uint64(time.Second) / uint64(dt)
	if v == 0 {
		v = 1
	}
	if v > 1<<31 {
		v = 1 << 31
	}
	return uint32(v)
}

// Bank polls a set of encoders and forwards their samples.
type Bank struct {
	readers []*Reader
}

// NewBank configures one reader per entry of cfgs.
func NewBank(drv gpio.Driver, cfgs []Config) (*Bank, error) {
	b := &Bank{}
	for i, c := range cfgs {
		r, err := NewReader(drv, c)
		if err != nil {
			return nil, fmt.Errorf("encoder %d: %w", i, err)
		}
		b.readers = append(b.readers, r)
		debug.Verbose("Encoder %d on pins A=%d B=%d button=%d", i, c.PinA, c.PinB, c.PinButton)
	}
	return b, nil
}

// Len returns the number of encoders.
func (b *Bank) Len() int { return len(b.readers) }

// ResetEncoder zeroes the counter of encoder id.
func (b *Bank) ResetEncoder(id int) {
	if id >= 0 && id < len(b.readers) {
		b.readers[id].Reset()
	}
}

// PollOnce polls every encoder at now and hands samples to sink.
func (b *Bank) PollOnce(now time.Time, sink func(id int, s encoder.Sample)) {
	for id, r := range b.readers {
		s, ok, err := r.Poll(now)
		if err != nil {
			debug.Error(fmt.Errorf("encoder %d: %w", id, err))
			continue
		}
		if ok {
			sink(id, s)
		}
	}
}

// Run polls at the given interval until ctx is cancelled.
func (b *Bank) Run(ctx context.Context, interval time.Duration, sink func(id int, s encoder.Sample)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.PollOnce(now, sink)
		}
	}
}
