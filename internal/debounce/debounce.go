// Package debounce coalesces bursts of signals into a single delayed action.
//
// A Debouncer holds at most one pending firing. Trigger restarts the quiet
// window; Cancel drops the pending firing. Firings carry a generation token so
// a consumer that queues them (for example onto an event loop) can discard a
// firing that was superseded or cancelled after its timer already expired.
package debounce

import (
	"sync"
	"time"
)

// Debouncer is safe for concurrent use.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	fire    func(gen uint64)
	timer   *time.Timer
	gen     uint64
	pending bool
}

// New returns a Debouncer that calls fire, on its own goroutine, once window
// has elapsed without another Trigger.
func New(window time.Duration, fire func(gen uint64)) *Debouncer {
	return &Debouncer{window: window, fire: fire}
}

// Trigger (re)starts the quiet window, superseding any pending firing.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = true
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

// Cancel drops the pending firing, if any. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	was := d.pending
	d.pending = false
	d.gen++
	return was
}

// Consume claims the firing identified by gen. It returns false when that
// firing was superseded by a later Trigger or dropped by Cancel, in which
// case the caller must not act on it.
func (d *Debouncer) Consume(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pending || gen != d.gen {
		return false
	}
	d.pending = false
	d.timer = nil
	return true
}

// Pending reports whether a firing is scheduled or delivered but unconsumed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
