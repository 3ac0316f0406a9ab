// Package debounce coalesces bursts of calls into a single delayed action.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer holds at most one pending action. Starting a new action replaces
// the pending one and restarts the delay.
type Debouncer struct {
	clock clock.Clock

	mu     sync.Mutex
	timer  *clock.Timer
	action func()
	gen    uint64
}

// New creates a debouncer driven by clk. A nil clock uses wall time.
func New(clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.New()
	}
	return &Debouncer{clock: clk}
}

// Start schedules action to run after delay, dropping any pending action.
func (d *Debouncer) Start(delay time.Duration, action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.action = action
	d.timer = d.clock.AfterFunc(delay, func() { d.fire(gen) })
}

// Cancel drops the pending action. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.action != nil
	d.stopLocked()
	return pending
}

// Flush runs the pending action immediately on the calling goroutine. It
// reports whether an action ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	action := d.action
	d.stopLocked()
	d.mu.Unlock()

	if action == nil {
		return false
	}
	action()
	return true
}

// Pending reports whether an action is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.action != nil
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.action == nil {
		d.mu.Unlock()
		return
	}
	action := d.action
	d.action = nil
	d.timer = nil
	d.mu.Unlock()

	action()
}

// stopLocked invalidates the pending timer; a timer that already fired but
// has not taken the lock yet sees a stale generation and does nothing.
func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.action = nil
	d.gen++
}
