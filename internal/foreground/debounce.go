// Package foreground implements the OS hook → debouncer → orchestrator
// pipeline (spec §4.4): the hook resolves window-change events to PIDs, the
// debouncer collapses rapid toggles into stable transitions.
package foreground

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of foreground-PID events into at most one
// stable emission per dwell, per spec §4.4's four-rule contract.
type Debouncer struct {
	mu          sync.Mutex
	debounce    time.Duration
	sink        func(pid int)
	haveStable  bool
	lastStable  int
	lastFire    time.Time
	timer       *time.Timer
	afterFunc   func(time.Duration, func()) *time.Timer // overridable for tests
}

// NewDebouncer builds a Debouncer that calls sink with the stable PID after
// collapsing bursts within debounceMs of each other.
func NewDebouncer(debounceMs time.Duration, sink func(pid int)) *Debouncer {
	return &Debouncer{
		debounce:  debounceMs,
		sink:      sink,
		afterFunc: time.AfterFunc,
	}
}

// Deliver feeds one foreground-change event into the debouncer. Any pending
// timer always carries the latest intent: it is cancelled on every delivery,
// including one that settles back onto the already-stable pid, so a burst
// that returns to its starting pid collapses to zero further emissions
// instead of leaving a stale timer armed for an intermediate pid.
func (d *Debouncer) Deliver(pid int) {
	d.mu.Lock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	if d.haveStable && pid == d.lastStable {
		d.mu.Unlock()
		return
	}

	if !d.haveStable || time.Since(d.lastFire) >= d.debounce {
		d.fireLocked(pid)
		return
	}

	d.timer = d.afterFunc(d.debounce, func() {
		d.mu.Lock()
		d.fireLocked(pid)
	})
	d.mu.Unlock()
}

// fireLocked updates last-stable state under the lock, then invokes the
// sink after releasing it (spec §4.4 rule 4; spec §5 "callback executed
// outside the lock"). Caller must hold d.mu on entry; fireLocked releases it.
func (d *Debouncer) fireLocked(pid int) {
	d.lastStable = pid
	d.haveStable = true
	d.lastFire = time.Now()
	d.timer = nil
	d.mu.Unlock()
	d.sink(pid)
}

// Stop cancels any pending timer (spec §5 shutdown sequence).
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
