// services/touch/service.go
package touch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"bt532-go/bus"
	"bt532-go/drivers/bt532"
	"bt532-go/services/touch/internal/arbiter"
	"bt532-go/services/touch/internal/irq"
	"bt532-go/services/touch/internal/watchdog"
	"bt532-go/types"
	"bt532-go/x/timex"
)

// IntPin is the controller's interrupt input as the platform provides it.
type IntPin = irq.Pin

// Hardware is what the board gives the service.
type Hardware struct {
	I2C   drivers.I2C
	Power bt532.Power // nil when the supply is hard-wired on
	Int   IntPin      // nil leaves the service without events
}

// Option customises a Service.
type Option func(*Service)

// WithSink adds a frame consumer next to the bus publisher.
func WithSink(s Sink) Option { return func(svc *Service) { svc.sink = append(svc.sink, s) } }

// WithImage supplies the firmware image instead of Params.Firmware.
func WithImage(img *bt532.Image) Option { return func(svc *Service) { svc.img = img } }

// WithDelay replaces the driver's sleeps.
func WithDelay(fn func(time.Duration)) Option { return func(svc *Service) { svc.delay = fn } }

// WithUpdaterOptions passes options through to the flash updater.
func WithUpdaterOptions(opts ...bt532.UpdaterOption) Option {
	return func(svc *Service) { svc.updOpts = append(svc.updOpts, opts...) }
}

// Service is one touch controller session: it owns the device and is the
// only thing that talks to it.
type Service struct {
	p    Params
	conn *bus.Connection
	hw   Hardware
	base bus.Topic

	dev  *bt532.Device
	upd  *bt532.Updater
	arb  *arbiter.Arbiter
	wd   *watchdog.Watchdog
	irqw *irq.Worker
	img  *bt532.Image
	sink multiSink

	delay   func(time.Duration)
	updOpts []bt532.UpdaterOption

	// Touched only while holding an arbiter guard.
	dec   *bt532.Decoder
	rep   bt532.Reported
	frame bt532.Frame
	evs   []bt532.Event
	mode  uint16

	mu        sync.Mutex
	link      types.Link
	lastErr   string
	lastState string
	info      types.TouchInfo

	frames     atomic.Uint32
	busyDrops  atomic.Uint32
	spurious   atomic.Uint32
	invalid    atomic.Uint32
	slotDrops  atomic.Uint32
	recoveries atomic.Uint32
}

// New builds the session. Nothing touches the hardware until Run.
func New(conn *bus.Connection, hw Hardware, p Params, opts ...Option) (*Service, error) {
	p = p.withDefaults()
	s := &Service{
		p:         p,
		conn:      conn,
		hw:        hw,
		base:      bus.T("hal", "cap", "input", "touch", p.Name),
		arb:       arbiter.New(),
		link:      types.LinkDown,
		lastState: arbiter.Idle.String(),
		evs:       make([]bt532.Event, 0, bt532.MaxFingers+bt532.MaxButtons),
	}
	s.sink = multiSink{&busSink{conn: conn, topic: s.base.Append("event")}}
	for _, o := range opts {
		o(s)
	}

	cfg, err := p.DriverConfig()
	if err != nil {
		return nil, err
	}
	cfg.Delay = s.delay
	var line bt532.IntLine
	if hw.Int != nil {
		line = hw.Int
	}
	s.dev = bt532.New(hw.I2C, hw.Power, line, cfg)
	s.upd = bt532.NewUpdater(s.dev, s.updOpts...)
	s.mode = cfg.TouchMode

	if s.img == nil && p.Firmware != "" {
		if s.img, err = LoadImage(p.Firmware); err != nil {
			println("[touch] firmware image: " + err.Error())
		}
	}

	s.arb.OnChange(s.onState)
	s.wd = watchdog.New(p.EsdInterval(), s.onExpire)
	s.irqw = irq.New(p.IRQQueue, s.onIRQ)
	return s, nil
}

// LoadImage reads and checks a firmware file.
func LoadImage(path string) (*bt532.Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bt532.ParseImage(b)
}

// Topic returns the session's root topic.
func (s *Service) Topic() bus.Topic { return s.base }

// Run brings the controller up and serves control requests until ctx is
// cancelled. A failed bringup leaves the link at fault; the control verbs
// stay available so an operator can reinit or reflash.
func (s *Service) Run(ctx context.Context) error {
	ctrl := s.conn.Subscribe(s.base.Append("control", "+"))
	defer s.conn.Unsubscribe(ctrl)

	s.irqw.Start(ctx)
	if s.hw.Int != nil {
		detach, err := s.irqw.Attach(s.hw.Int)
		if err != nil {
			return err
		}
		defer detach()
	}

	s.publishStatus()
	s.probe()

	for {
		select {
		case <-ctx.Done():
			s.stopIntake()
			s.setLink(types.LinkDown, nil)
			return nil
		case msg, ok := <-ctrl.Channel():
			if !ok {
				s.stopIntake()
				return nil
			}
			s.handleControl(msg)
		}
	}
}

func (s *Service) probe() {
	g, err := s.arb.Enter(arbiter.Probing)
	if err != nil {
		println("[touch] probe: " + err.Error())
		return
	}
	defer g.Release()
	if err := s.bringupLocked(bt532.FirmwareNormal, false, false); err != nil {
		println("[touch] bringup failed: " + err.Error())
	}
}

// bringupLocked runs the full init sequence. Intake is restarted only on
// success. flashed marks a run that follows a firmware write, so the
// calibration policy sees new firmware.
func (s *Service) bringupLocked(dir bt532.Directive, cycle, flashed bool) error {
	s.stopIntake()
	s.dec = nil

	var err error
	if cycle {
		err = s.dev.PowerCycle()
	} else {
		err = s.dev.PowerOnSequence()
	}
	if err != nil {
		_ = s.dev.PowerOff()
		s.setLink(types.LinkFault, err)
		return err
	}

	rep, err := s.dev.Bringup(s.upd, bt532.BringupPlan{
		Image:      s.img,
		Directive:  dir,
		ForceRepat: s.p.ForceRepat,
		Flashed:    flashed,
	})
	if err != nil {
		_ = s.dev.PowerOff()
		s.setLink(types.LinkFault, err)
		return err
	}
	if rep.Recovered {
		println("[touch] bringup recovered by forced reflash")
	}

	s.dec = bt532.NewDecoder(rep.Caps, s.dev.Config().Flip)
	s.rep = bt532.Reported{}
	s.mode = s.dev.Config().TouchMode
	s.updateInfo(rep.Caps, rep.Calibration.Ledger)
	s.startIntake()
	s.setLink(types.LinkUp, nil)
	return nil
}

// ---- intake ----

func (s *Service) startIntake() {
	if s.dec == nil {
		return
	}
	s.irqw.Enable()
	if s.mode == bt532.ModePoint {
		s.wd.Start()
	}
}

func (s *Service) stopIntake() {
	s.wd.Stop()
	s.irqw.Disable()
}

// onIRQ runs on the irq worker goroutine, one event at a time.
func (s *Service) onIRQ(irq.Event) {
	g, err := s.arb.TryEnter(arbiter.Normal)
	if err != nil {
		if errors.Is(err, arbiter.ErrBusy) {
			// The owner clears before it releases; this keeps the line
			// from staying low until then.
			s.busyDrops.Add(1)
			_ = s.dev.AckInt()
		}
		return
	}
	defer g.Release()

	if !s.dev.IntAsserted() {
		s.spurious.Add(1)
		return
	}
	if s.dec == nil || s.mode != bt532.ModePoint {
		_ = s.dev.ClearInt()
		return
	}
	if err := s.dev.ReadFrame(&s.frame); err != nil {
		s.invalid.Add(1)
		println("[touch] read frame: " + err.Error())
		s.recoveries.Add(1)
		g.Escalate(arbiter.EsdRecovery)
		if err := s.recoverLocked(); err != nil {
			println("[touch] recovery failed: " + err.Error())
		}
		return
	}
	s.frames.Add(1)

	evs, err := s.dec.Decode(&s.frame, &s.rep, s.evs[:0])
	s.slotDrops.Store(s.rep.Dropped)
	if err != nil {
		s.invalid.Add(1)
	} else if len(evs) > 0 {
		s.emit(evs)
	}
	s.evs = evs[:0]
	_ = s.dev.ClearInt()
	s.wd.Kick()
}

// onExpire runs on the watchdog timer goroutine.
func (s *Service) onExpire() watchdog.Outcome {
	g, err := s.arb.TryEnter(arbiter.EsdRecovery)
	switch {
	case errors.Is(err, arbiter.ErrBusy):
		return watchdog.Busy
	case err != nil:
		return watchdog.Halt
	}
	defer g.Release()
	println("[esd] no interrupt for " + s.wd.Interval().String() + ", power cycling")
	if err := s.recoverLocked(); err != nil {
		println("[esd] recovery failed: " + err.Error())
	}
	return watchdog.Recovered
}

// recoverLocked power-cycles the chip and re-arms it without reflashing
// or recalibrating. Contacts the host still thinks are down are released.
func (s *Service) recoverLocked() error {
	s.releaseAll()
	if err := s.dev.PowerCycle(); err != nil {
		s.setLink(types.LinkFault, err)
		return err
	}
	if err := s.dev.FastResume(); err != nil {
		s.setLink(types.LinkFault, err)
		return err
	}
	s.setLink(types.LinkUp, nil)
	return nil
}

func (s *Service) releaseAll() {
	evs := s.rep.Release(s.evs[:0])
	if len(evs) > 0 {
		s.emit(evs)
	}
	s.evs = evs[:0]
}

func (s *Service) emit(evs []bt532.Event) {
	s.sink.Emit(Frame{Events: evs, Active: s.rep.Active(), TS: timex.NowMs()})
}

// ---- state and info ----

func (s *Service) onState(st arbiter.State) {
	if st == arbiter.Normal {
		return
	}
	s.mu.Lock()
	name := st.String()
	if name == s.lastState {
		s.mu.Unlock()
		return
	}
	s.lastState = name
	s.mu.Unlock()
	s.publishStatus()
}

func (s *Service) setLink(l types.Link, err error) {
	s.mu.Lock()
	changed := s.link != l
	s.link = l
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	changed = changed || msg != s.lastErr
	s.lastErr = msg
	s.mu.Unlock()
	if changed {
		s.publishStatus()
	}
}

// Status is the current link and work state.
func (s *Service) Status() types.CapabilityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CapabilityStatus{Link: s.link, State: s.lastState, TS: timex.NowMs(), Error: s.lastErr}
}

func (s *Service) publishStatus() {
	s.conn.Publish(s.conn.NewMessage(s.base.Append("state"), s.Status(), true))
}

func (s *Service) updateInfo(c bt532.Capabilities, l bt532.Ledger) {
	s.mu.Lock()
	s.info = types.TouchInfo{
		Name:         s.p.Name,
		VendorID:     c.VendorID,
		ChipCode:     c.ChipCode,
		ChipRevision: c.ChipRevision,
		HardwareID:   c.HardwareID,
		Firmware:     c.Firmware.String(),
		XNodes:       c.XNodes,
		YNodes:       c.YNodes,
		MaxX:         c.MaxX,
		MaxY:         c.MaxY,
		Fingers:      c.Fingers,
		Buttons:      c.Buttons,
		IntMask:      c.IntMask,
		CalCount:     l.CalCount,
		TuneVersion:  l.TuneFixVersion,
		AutoTuned:    l.AutoTuned(),
		TouchMode:    s.mode,
	}
	s.mu.Unlock()
	s.publishInfo()
}

func (s *Service) publishInfo() {
	s.conn.Publish(s.conn.NewMessage(s.base.Append("info"), types.Info{
		SchemaVersion: 1,
		Driver:        "bt532",
		Detail:        s.Info(),
	}, true))
}

// Info is the description captured by the last successful bringup.
func (s *Service) Info() types.TouchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Stats snapshots the diagnostic counters.
func (s *Service) Stats() types.TouchStats {
	ws := s.wd.Stats()
	return types.TouchStats{
		Frames:       s.frames.Load(),
		BusyDrops:    s.busyDrops.Load(),
		Spurious:     s.spurious.Load(),
		InvalidFrame: s.invalid.Load(),
		SlotDrops:    s.slotDrops.Load(),
		ISRDrops:     s.irqw.ISRDrops(),
		Recoveries:   s.recoveries.Load() + ws.Recoveries,
		EsdBusy:      ws.Busy,
	}
}
