// services/touch/internal/irq/irq_worker.go
package irq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Pin is the controller's interrupt input. The handler passed to SetIRQ
// may run in interrupt context or on a platform edge-wait goroutine; it
// must not block.
type Pin interface {
	Get() bool
	SetIRQ(handler func()) error
	ClearIRQ() error
}

// Event is one interrupt delivered to the handler goroutine.
type Event struct {
	Level bool // raw line level when the edge was taken
	TS    time.Time
}

var ErrAttached = errors.New("pin_in_use")

// Worker moves interrupts off the ISR onto a single goroutine that calls
// handle one event at a time.
type Worker struct {
	// Written by the ISR; must never block it.
	isrQ    chan Event
	stopped chan struct{}
	handle  func(Event)

	mu  sync.Mutex
	pin Pin

	enabled atomic.Bool
	drops   uint32 // queue full
	masked  uint32 // arrived while disabled
}

func New(isrBuf int, handle func(Event)) *Worker {
	if isrBuf <= 0 {
		isrBuf = 16
	}
	return &Worker{
		isrQ:    make(chan Event, isrBuf),
		stopped: make(chan struct{}),
		handle:  handle,
	}
}

// Start runs the handler loop until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-w.isrQ:
				if w.enabled.Load() {
					w.handle(ev)
				}
			}
		}
	}()
}

// Stopped is closed when the handler loop exits.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

// Attach installs the ISR on pin. The returned func detaches it.
func (w *Worker) Attach(pin Pin) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pin != nil {
		return nil, ErrAttached
	}
	handler := func() {
		if !w.enabled.Load() {
			atomic.AddUint32(&w.masked, 1)
			return
		}
		select {
		case w.isrQ <- Event{Level: pin.Get(), TS: time.Now()}:
		default:
			atomic.AddUint32(&w.drops, 1)
		}
	}
	if err := pin.SetIRQ(handler); err != nil {
		return nil, err
	}
	w.pin = pin
	return func() {
		w.mu.Lock()
		if w.pin == pin {
			_ = pin.ClearIRQ()
			w.pin = nil
		}
		w.mu.Unlock()
	}, nil
}

// Enable unmasks the host side of the interrupt.
func (w *Worker) Enable() { w.enabled.Store(true) }

// Disable masks it and discards anything already queued.
func (w *Worker) Disable() {
	w.enabled.Store(false)
	for {
		select {
		case <-w.isrQ:
		default:
			return
		}
	}
}

func (w *Worker) Enabled() bool { return w.enabled.Load() }

func (w *Worker) ISRDrops() uint32 { return atomic.LoadUint32(&w.drops) }
func (w *Worker) Masked() uint32   { return atomic.LoadUint32(&w.masked) }
