package touch

import (
	"io"

	"bt532-go/drivers/bt532"
	"bt532-go/services/touch/internal/platform"
)

// OpenHardware claims the host bus and pins named in p. Close the returned
// closer after Run has returned.
func OpenHardware(p Params) (Hardware, io.Closer, error) {
	if err := p.validateHardware(); err != nil {
		return Hardware{}, nil, err
	}
	b, err := platform.Open(platform.Config{
		I2CBus:   p.I2CBus,
		I2CHz:    p.I2CHz,
		IntPin:   p.IntPin,
		PowerPin: p.PowerPin,
	})
	if err != nil {
		return Hardware{}, nil, err
	}
	hw := Hardware{I2C: b.Bus, Int: b.Int}
	if b.Power != nil {
		hw.Power = b.Power
	}
	return hw, b, nil
}

// OpenUinput creates a kernel multi-touch device and returns a Sink that
// feeds it.
func OpenUinput(p Params) (Sink, io.Closer, error) {
	cfg, err := p.DriverConfig()
	if err != nil {
		return nil, nil, err
	}
	u, err := platform.OpenUinput(platform.UinputConfig{
		Name:    "bt532 " + p.withDefaults().Name,
		MaxX:    cfg.MaxX,
		MaxY:    cfg.MaxY,
		Slots:   cfg.Fingers,
		Buttons: cfg.Buttons,
	})
	if err != nil {
		return nil, nil, err
	}
	return &uinputSink{dev: u}, u, nil
}

// inputDevice is the part of platform.Uinput the sink drives.
type inputDevice interface {
	Contact(slot int, x, y uint16, width uint8)
	Lift(slot int)
	Key(i int, down bool)
	Sync() error
}

type uinputSink struct {
	dev    inputDevice
	failed bool
}

func (s *uinputSink) Emit(f Frame) {
	for _, e := range f.Events {
		switch e.Kind {
		case bt532.ContactUpdate:
			s.dev.Contact(e.Slot, e.X, e.Y, e.Width)
		case bt532.ContactReleased:
			s.dev.Lift(e.Slot)
		case bt532.ButtonDown:
			s.dev.Key(e.Slot, true)
		case bt532.ButtonUp:
			s.dev.Key(e.Slot, false)
		}
	}
	if err := s.dev.Sync(); err != nil && !s.failed {
		s.failed = true
		println("[touch] uinput: " + err.Error())
	}
}
