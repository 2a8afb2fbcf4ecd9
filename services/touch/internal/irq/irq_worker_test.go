// services/touch/internal/irq/irq_worker_test.go
package irq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePin implements Pin; fire plays the part of the interrupt controller.
type fakePin struct {
	mu      sync.Mutex
	level   bool
	handler func()
}

func (p *fakePin) Get() bool             { p.mu.Lock(); defer p.mu.Unlock(); return p.level }
func (p *fakePin) SetIRQ(h func()) error { p.mu.Lock(); p.handler = h; p.mu.Unlock(); return nil }
func (p *fakePin) ClearIRQ() error       { p.mu.Lock(); p.handler = nil; p.mu.Unlock(); return nil }
func (p *fakePin) attached() bool        { p.mu.Lock(); defer p.mu.Unlock(); return p.handler != nil }
func (p *fakePin) fire() {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

func TestWorkerDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 8)
	w := New(8, func(ev Event) { got <- ev })
	w.Start(ctx)
	pin := &fakePin{}
	detach, err := w.Attach(pin)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()
	w.Enable()

	pin.fire()
	pin.fire()
	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			if ev.Level || ev.TS.IsZero() {
				t.Fatalf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestWorkerMaskedWhileDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 8)
	w := New(8, func(ev Event) { got <- ev })
	w.Start(ctx)
	pin := &fakePin{}
	if _, err := w.Attach(pin); err != nil {
		t.Fatal(err)
	}

	pin.fire()
	select {
	case <-got:
		t.Fatal("event delivered while disabled")
	case <-time.After(20 * time.Millisecond):
	}
	if w.Masked() != 1 {
		t.Fatalf("Masked = %d", w.Masked())
	}
}

func TestWorkerDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	w := New(1, func(Event) { <-block })
	ctx, cancel := context.WithCancel(context.Background())
	defer func() { close(block); cancel() }()
	pin := &fakePin{}
	w.Attach(pin)
	w.Enable()

	// No loop running yet: the first event fills the queue.
	pin.fire()
	pin.fire()
	pin.fire()
	if w.ISRDrops() != 2 {
		t.Fatalf("ISRDrops = %d, want 2", w.ISRDrops())
	}
	w.Disable()
	w.Start(ctx)
}

func TestAttachTwiceAndDetach(t *testing.T) {
	w := New(1, func(Event) {})
	a, b := &fakePin{}, &fakePin{}
	detach, err := w.Attach(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Attach(b); !errors.Is(err, ErrAttached) {
		t.Fatalf("second Attach = %v", err)
	}
	detach()
	if a.attached() {
		t.Fatal("detach must clear the handler")
	}
	if _, err := w.Attach(b); err != nil {
		t.Fatalf("Attach after detach: %v", err)
	}
}

func TestStoppedClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, func(Event) {})
	w.Start(ctx)
	cancel()
	select {
	case <-w.Stopped():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
