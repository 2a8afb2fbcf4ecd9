//go:build linux

package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Board is the opened host side of one controller.
type Board struct {
	Bus   i2c.BusCloser
	Int   *IntPin
	Power *PowerPin // nil when not wired
}

// Open initialises periph and claims the bus and pins.
func Open(c Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph init: %w", err)
	}
	bus, err := i2creg.Open(c.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("i2c %q: %w", c.I2CBus, err)
	}
	if c.I2CHz > 0 {
		if err := bus.SetSpeed(physic.Frequency(c.I2CHz) * physic.Hertz); err != nil {
			bus.Close()
			return nil, fmt.Errorf("i2c speed: %w", err)
		}
	}
	b := &Board{Bus: bus}

	p := gpioreg.ByName(c.IntPin)
	if p == nil {
		bus.Close()
		return nil, fmt.Errorf("int pin %q not found", c.IntPin)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		bus.Close()
		return nil, fmt.Errorf("int pin: %w", err)
	}
	b.Int = &IntPin{pin: p}

	if c.PowerPin != "" {
		pp := gpioreg.ByName(c.PowerPin)
		if pp == nil {
			bus.Close()
			return nil, fmt.Errorf("power pin %q not found", c.PowerPin)
		}
		b.Power = &PowerPin{pin: pp}
	}
	return b, nil
}

// Close releases the IRQ goroutine and the bus.
func (b *Board) Close() error {
	var errs []error
	if b.Int != nil {
		errs = append(errs, b.Int.ClearIRQ())
	}
	if b.Power != nil {
		errs = append(errs, b.Power.SetPower(false))
	}
	errs = append(errs, b.Bus.Close())
	return errors.Join(errs...)
}

// ---- power ----

type PowerPin struct{ pin gpio.PinOut }

func (p *PowerPin) SetPower(on bool) error { return p.pin.Out(gpio.Level(on)) }

// ---- interrupt ----

// edgeWait bounds one WaitForEdge so ClearIRQ is noticed even when Halt
// is not supported by the pin driver.
const edgeWait = 200 * time.Millisecond

// IntPin turns falling edges on the INT GPIO into handler calls from a
// dedicated goroutine.
type IntPin struct {
	pin gpio.PinIO

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var errIRQSet = errors.New("irq already set")

func (p *IntPin) Get() bool { return p.pin.Read() == gpio.High }

func (p *IntPin) SetIRQ(handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return errIRQSet
	}
	if err := p.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return err
	}
	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		for {
			edge := p.pin.WaitForEdge(edgeWait)
			select {
			case <-stop:
				return
			default:
			}
			if edge {
				handler()
			}
		}
	}()
	return nil
}

func (p *IntPin) ClearIRQ() error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	_ = p.pin.Halt()
	<-done
	return p.pin.In(gpio.PullUp, gpio.NoEdge)
}
