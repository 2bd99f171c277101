//go:build tinygo

package mpg

import "runtime/interrupt"

// criticalSection disables interrupts while held, so the encoder
// interrupt handler cannot preempt the control loop mid-update.
type criticalSection struct {
	state interrupt.State
}

func (c *criticalSection) lock() {
	s := interrupt.Disable()
	c.state = s
}

func (c *criticalSection) unlock() {
	interrupt.Restore(c.state)
}
