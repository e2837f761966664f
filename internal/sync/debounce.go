package sync

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of change events into one fired signal after a
// quiet period. Extend during a running window stops and restarts the single
// timer rather than stacking new ones, so sustained activity produces at most
// one signal per window.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	deadline time.Time
	fire     func()
}

// NewDebouncer creates a debouncer that calls fire from a timer goroutine
// once the quiet period elapses.
func NewDebouncer(delay time.Duration, fire func()) *Debouncer {
	return &Debouncer{delay: delay, fire: fire}
}

// Extend resets the deadline to now plus the quiet period.
func (d *Debouncer) Extend() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.deadline = time.Now().Add(d.delay)
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		d.deadline = time.Time{}
		d.mu.Unlock()
		d.fire()
	})
}

// Stop cancels any pending window.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.deadline = time.Time{}
}

// Deadline returns when the current window expires, or the zero time if no
// window is running.
func (d *Debouncer) Deadline() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deadline
}
