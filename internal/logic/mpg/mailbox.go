package mpg

import "github.com/cjeanneret/JogGo/internal/logic/encoder"

// Events is the set of pending requests for one axis.
type Events uint8

const (
	EventPositionChanged Events = 1 << iota
	EventZero
	EventScale
	EventStop
)

// AxisMask has bit n set for axis n.
type AxisMask uint8

// Has reports whether axis is in the mask.
func (m AxisMask) Has(axis int) bool {
	return m&(1<<axis) != 0
}

// mailbox carries axis events from the producer to the control loop.
// Every method must be called with the engine critical section held.
type mailbox struct {
	pending AxisMask
	events  [encoder.MaxAxes]Events
}

func (b *mailbox) post(axis int, ev Events) {
	b.events[axis] |= ev
	b.pending |= 1 << axis
}

func (b *mailbox) clear(axis int) {
	b.events[axis] = 0
	b.pending &^= 1 << axis
}

// drain snapshots and clears the live events.
func (b *mailbox) drain() (AxisMask, [encoder.MaxAxes]Events) {
	mask, events := b.pending, b.events
	b.pending = 0
	b.events = [encoder.MaxAxes]Events{}
	return mask, events
}
