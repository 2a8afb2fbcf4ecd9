// Package arbiter serialises access to the touch controller. One lock
// guards the device; a tag records which operation holds it, or which
// parked power state it was left in.
package arbiter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// State is the work-state tag.
type State uint8

const (
	Idle State = iota
	Normal
	EsdRecovery
	EarlySuspend
	Suspend
	Resume
	LateResume
	FirmwareUpgrade
	ModeSet
	HardwareCalibration
	RawDataCapture
	Probing
	Removing
	Removed
)

var names = [...]string{
	Idle:                "idle",
	Normal:              "normal",
	EsdRecovery:         "esd_recovery",
	EarlySuspend:        "early_suspend",
	Suspend:             "suspend",
	Resume:              "resume",
	LateResume:          "late_resume",
	FirmwareUpgrade:     "firmware_upgrade",
	ModeSet:             "mode_set",
	HardwareCalibration: "hardware_calibration",
	RawDataCapture:      "raw_data_capture",
	Probing:             "probing",
	Removing:            "removing",
	Removed:             "removed",
}

func (s State) String() string {
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

var (
	ErrBusy         = errors.New("busy")
	ErrInvalidState = errors.New("invalid_state")
)

// StateError is a precondition mismatch: op was requested while the
// device sat in Have, and only Want are accepted.
type StateError struct {
	Op   State
	Have State
	Want []State
}

func (e *StateError) Error() string {
	w := make([]string, len(e.Want))
	for i, s := range e.Want {
		w[i] = s.String()
	}
	return fmt.Sprintf("invalid_state: %s from %s (want %s)", e.Op, e.Have, strings.Join(w, "|"))
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// Arbiter is the single mutual-exclusion domain for one controller.
type Arbiter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	held     bool
	state    State
	onChange func(State)
}

func New() *Arbiter {
	a := &Arbiter{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// OnChange registers fn to be called, outside the lock, after every
// transition. Must be set before concurrent use.
func (a *Arbiter) OnChange(fn func(State)) { a.onChange = fn }

// State returns the current tag.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Held reports whether an operation currently owns the device.
func (a *Arbiter) Held() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}

var idleOnly = []State{Idle}

func (a *Arbiter) admit(op State, from []State) error {
	if len(from) == 0 {
		from = idleOnly
	}
	for _, s := range from {
		if a.state == s {
			return nil
		}
	}
	return &StateError{Op: op, Have: a.state, Want: from}
}

// TryEnter acquires the device for op without blocking. It fails with
// ErrBusy while another guard is live and with ErrInvalidState when the
// current tag is not Idle or one of from.
func (a *Arbiter) TryEnter(op State, from ...State) (*Guard, error) {
	a.mu.Lock()
	if a.held {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	if err := a.admit(op, from); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	g := a.take(op)
	a.mu.Unlock()
	a.notify(op)
	return g, nil
}

// Enter is TryEnter that waits, without timeout, for the current guard to
// be released. The precondition is checked once the lock is free.
func (a *Arbiter) Enter(op State, from ...State) (*Guard, error) {
	a.mu.Lock()
	for a.held {
		a.cond.Wait()
	}
	if err := a.admit(op, from); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	g := a.take(op)
	a.mu.Unlock()
	a.notify(op)
	return g, nil
}

func (a *Arbiter) take(op State) *Guard {
	a.held = true
	a.state = op
	return &Guard{a: a, op: op}
}

func (a *Arbiter) notify(s State) {
	if a.onChange != nil {
		a.onChange(s)
	}
}

func (a *Arbiter) leave(g *Guard, next State) {
	a.mu.Lock()
	g.done = true
	a.state = next
	a.held = false
	a.cond.Broadcast()
	a.mu.Unlock()
	a.notify(next)
}

// Guard is the proof of ownership returned by Enter and TryEnter. Exactly
// one of Release or Park takes effect; later calls are no-ops.
type Guard struct {
	a    *Arbiter
	op   State
	once sync.Once
	done bool // guarded by a.mu
}

// Op is the state the guard was taken for.
func (g *Guard) Op() State { return g.op }

// Release frees the device and restores Idle.
func (g *Guard) Release() { g.once.Do(func() { g.a.leave(g, Idle) }) }

// Park frees the device but leaves it tagged s, so that only operations
// naming s as a predecessor can enter next.
func (g *Guard) Park(s State) { g.once.Do(func() { g.a.leave(g, s) }) }

// Escalate retags a live guard as op without letting go of the device.
// It does nothing once the guard has been released or parked.
func (g *Guard) Escalate(op State) {
	a := g.a
	a.mu.Lock()
	if g.done {
		a.mu.Unlock()
		return
	}
	a.state = op
	g.op = op
	a.mu.Unlock()
	a.notify(op)
}
