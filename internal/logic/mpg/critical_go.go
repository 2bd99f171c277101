//go:build !tinygo

package mpg

import "sync"

// criticalSection guards state shared between the encoder producer and
// the control loop. On the Go runtime both sides are goroutines.
type criticalSection struct {
	mu sync.Mutex
}

func (c *criticalSection) lock() {
	c.mu.Lock()
}

func (c *criticalSection) unlock() {
	c.mu.Unlock()
}
