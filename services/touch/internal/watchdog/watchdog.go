// services/touch/internal/watchdog/watchdog.go
package watchdog

import (
	"sync"
	"time"
)

// Outcome is what an expiry callback reports.
type Outcome uint8

const (
	Recovered Outcome = iota // recovery ran
	Busy                     // device owned elsewhere; try again later
	Halt                     // do not rearm
)

// Stats counts expiries by outcome.
type Stats struct {
	Fires      uint32
	Recoveries uint32
	Busy       uint32
}

// Watchdog is a one-shot liveness timer. Every Kick pushes the deadline
// out by one interval; on expiry fn runs on the timer goroutine and the
// timer is rearmed unless fn returns Halt, the watchdog was stopped, or a
// Kick arrived while fn was running.
type Watchdog struct {
	interval time.Duration
	fn       func() Outcome

	mu      sync.Mutex
	t       *time.Timer
	gen     uint64
	running bool
	stats   Stats
}

func New(interval time.Duration, fn func() Outcome) *Watchdog {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watchdog{interval: interval, fn: fn}
}

func (w *Watchdog) Interval() time.Duration { return w.interval }

// Start arms the timer. Starting a running watchdog rearms it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	w.running = true
	w.armLocked()
	w.mu.Unlock()
}

// Stop disarms the timer. A callback already running completes but does
// not rearm.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.running = false
	w.gen++
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
	w.mu.Unlock()
}

// Kick rearms a running watchdog; it is a no-op when stopped.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	if w.running {
		w.armLocked()
	}
	w.mu.Unlock()
}

func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watchdog) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watchdog) armLocked() {
	if w.t != nil {
		w.t.Stop()
	}
	w.gen++
	gen := w.gen
	w.t = time.AfterFunc(w.interval, func() { w.expire(gen) })
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if !w.running || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.t = nil
	w.stats.Fires++
	w.mu.Unlock()

	out := w.fn()

	w.mu.Lock()
	defer w.mu.Unlock()
	switch out {
	case Recovered:
		w.stats.Recoveries++
	case Busy:
		w.stats.Busy++
	case Halt:
		w.running = false
		return
	}
	if !w.running || gen != w.gen {
		return
	}
	w.armLocked()
}
