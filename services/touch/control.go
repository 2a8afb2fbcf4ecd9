// services/touch/control.go
package touch

import (
	"encoding/json"
	"errors"
	"fmt"

	"bt532-go/bus"
	"bt532-go/drivers/bt532"
	"bt532-go/errcode"
	"bt532-go/services/touch/internal/arbiter"
	"bt532-go/types"
)

// Verbs served under <root>/control/<verb>.
const (
	VerbInfo         = "info"
	VerbEarlySuspend = "early_suspend"
	VerbLateResume   = "late_resume"
	VerbSuspend      = "suspend"
	VerbResume       = "resume"
	VerbFwUpdate     = "fw_update"
	VerbCalibrate    = "calibrate"
	VerbSetMode      = "set_mode"
	VerbRemove       = "remove"
	VerbReinit       = "reinit"
)

// Verbs lists every control verb, for the console's help.
var Verbs = []string{
	VerbInfo, VerbEarlySuspend, VerbLateResume, VerbSuspend, VerbResume,
	VerbFwUpdate, VerbCalibrate, VerbSetMode, VerbRemove, VerbReinit,
}

// ControlTopic is the request topic for verb on the controller called name.
func ControlTopic(name, verb string) bus.Topic {
	return bus.T("hal", "cap", "input", "touch", name, "control", verb)
}

func (s *Service) handleControl(msg *bus.Message) {
	verb, _ := msg.Topic[len(msg.Topic)-1].(string)
	detail, err := s.control(verb, msg.Payload)
	if err != nil {
		println("[touch] " + verb + ": " + err.Error())
	}
	if len(msg.ReplyTo) == 0 {
		return
	}
	r := types.ControlReply{OK: err == nil, State: s.arb.State().String(), Detail: detail}
	if err != nil {
		r.Error = string(codeOf(err))
	}
	_ = s.conn.Reply(msg, r, false)
}

func (s *Service) control(verb string, payload any) (any, error) {
	switch verb {
	case VerbInfo:
		return map[string]any{"info": s.Info(), "stats": s.Stats(), "status": s.Status()}, nil
	case VerbEarlySuspend:
		return nil, s.earlySuspend()
	case VerbLateResume:
		return nil, s.lateResume()
	case VerbSuspend:
		return nil, s.suspend()
	case VerbResume:
		return nil, s.resume()
	case VerbFwUpdate:
		var req types.FwUpdateRequest
		if err := decodeJSON(payload, &req); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, verb, err)
		}
		return s.fwUpdate(req.Force)
	case VerbCalibrate:
		return s.calibrate()
	case VerbSetMode:
		var req types.SetModeRequest
		if err := decodeJSON(payload, &req); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, verb, err)
		}
		return nil, s.setMode(req.Mode)
	case VerbRemove:
		return nil, s.remove()
	case VerbReinit:
		if err := s.reinit(); err != nil {
			return nil, err
		}
		return s.Info(), nil
	}
	return nil, errcode.Unsupported
}

// codeOf adds the arbiter's errors to the errcode mapping.
func codeOf(err error) errcode.Code {
	switch {
	case errors.Is(err, arbiter.ErrBusy):
		return errcode.Busy
	case errors.Is(err, arbiter.ErrInvalidState):
		return errcode.InvalidState
	}
	return errcode.Of(err)
}

// ---- power families ----

func (s *Service) earlySuspend() error {
	g, err := s.arb.Enter(arbiter.EarlySuspend)
	if err != nil {
		return err
	}
	s.stopIntake()
	s.releaseAll()
	if s.dev.Powered() {
		_ = s.dev.SetPeriodicInterval(0)
	}
	err = s.dev.PowerOff()
	g.Park(arbiter.EarlySuspend)
	s.setLink(types.LinkDown, nil)
	return err
}

func (s *Service) lateResume() error {
	g, err := s.arb.Enter(arbiter.LateResume, arbiter.EarlySuspend, arbiter.Resume)
	if err != nil {
		return err
	}
	if err := s.resumeLocked(); err != nil {
		_ = s.dev.PowerOff()
		s.setLink(types.LinkFault, err)
		g.Park(arbiter.EarlySuspend)
		return err
	}
	g.Release()
	return nil
}

// resumeLocked re-arms a chip that kept its firmware. A bad checksum means
// it did not, and the full bringup runs instead.
func (s *Service) resumeLocked() error {
	if !s.dev.Powered() {
		if err := s.dev.PowerOnSequence(); err != nil {
			return err
		}
	}
	if s.dev.Config().UseChecksum {
		ok, err := s.dev.ChecksumOK()
		if err != nil {
			return err
		}
		if !ok {
			println("[touch] checksum bad after resume, reinitialising")
			return s.bringupLocked(bt532.FirmwareNormal, true, false)
		}
	}
	if s.dec == nil {
		return s.bringupLocked(bt532.FirmwareNormal, true, false)
	}
	if err := s.dev.FastResume(); err != nil {
		return err
	}
	s.startIntake()
	s.setLink(types.LinkUp, nil)
	return nil
}

func (s *Service) suspend() error {
	g, err := s.arb.Enter(arbiter.Suspend, arbiter.Idle, arbiter.EarlySuspend)
	if err != nil {
		return err
	}
	s.stopIntake()
	s.releaseAll()
	if s.dev.Powered() {
		_ = s.dev.Sleep()
	}
	err = s.dev.PowerOff()
	g.Park(arbiter.Suspend)
	s.setLink(types.LinkDown, nil)
	return err
}

func (s *Service) resume() error {
	g, err := s.arb.Enter(arbiter.Resume, arbiter.Suspend)
	if err != nil {
		return err
	}
	if err := s.dev.PowerOnSequence(); err != nil {
		_ = s.dev.PowerOff()
		g.Park(arbiter.Suspend)
		return err
	}
	g.Park(arbiter.Resume)
	return nil
}

func (s *Service) remove() error {
	g, err := s.arb.Enter(arbiter.Removing,
		arbiter.Idle, arbiter.EarlySuspend, arbiter.Suspend, arbiter.Resume)
	if err != nil {
		return err
	}
	s.stopIntake()
	s.releaseAll()
	if s.dev.Powered() {
		_ = s.dev.SetPeriodicInterval(0)
	}
	err = s.dev.PowerOff()
	s.dec = nil
	g.Park(arbiter.Removed)
	s.setLink(types.LinkDown, nil)
	return err
}

// ---- maintenance ----

func (s *Service) reinit() error {
	g, err := s.arb.Enter(arbiter.Probing)
	if err != nil {
		return err
	}
	defer g.Release()
	s.releaseAll()
	return s.bringupLocked(bt532.FirmwareNormal, true, false)
}

func (s *Service) fwUpdate(force bool) (types.FwUpdateResult, error) {
	var out types.FwUpdateResult
	g, err := s.arb.Enter(arbiter.FirmwareUpgrade)
	if err != nil {
		return out, err
	}
	defer g.Release()
	s.stopIntake()
	s.releaseAll()

	dir := bt532.FirmwareNormal
	if force {
		dir = bt532.FirmwareForce
	}
	res, err := s.upd.Update(s.img, dir)
	out = types.FwUpdateResult{
		Needed:  res.Needed,
		Flashed: res.Flashed,
		Before:  res.Before.String(),
		After:   res.After.String(),
	}
	if err != nil {
		if res.Flashed || !s.dev.Powered() {
			s.dec = nil
			s.setLink(types.LinkFault, err)
		} else {
			s.startIntake()
		}
		if errors.Is(err, bt532.ErrNoImage) {
			return out, err
		}
		return out, errcode.Wrap(codeOrFirmware(err), VerbFwUpdate, err)
	}
	if !res.Flashed {
		s.startIntake()
		return out, nil
	}
	println("[touch] firmware " + out.Before + " -> " + out.After)
	return out, s.bringupLocked(bt532.FirmwareSkip, true, true)
}

// codeOrFirmware keeps the specific flash codes and folds the rest into
// firmware_failed.
func codeOrFirmware(err error) errcode.Code {
	switch c := errcode.MapDriverErr(err); c {
	case errcode.VerifyMismatch, errcode.WriteTimeout, errcode.BadImage:
		return c
	}
	return errcode.FirmwareFailed
}

func (s *Service) calibrate() (types.CalibrateResult, error) {
	var out types.CalibrateResult
	g, err := s.arb.Enter(arbiter.HardwareCalibration)
	if err != nil {
		return out, err
	}
	defer g.Release()
	if s.dec == nil {
		return out, errcode.NotReady
	}
	s.stopIntake()
	defer s.startIntake()

	cfg := s.dev.Config()
	res, err := s.dev.ApplyCalibration(cfg.Policy, bt532.CalInputs{
		Forced:         true,
		LatestFirmware: true,
		MinTuneVersion: cfg.MinTuneVersion,
	})
	out = types.CalibrateResult{
		Ran:         res.Ran,
		CalCount:    res.Ledger.CalCount,
		TuneVersion: res.Ledger.TuneFixVersion,
	}
	if res.UnlockErr != nil {
		out.UnlockError = res.UnlockErr.Error()
	}
	if err != nil {
		// Mode and mask are only restored on success.
		if rerr := s.dev.FastResume(); rerr != nil {
			s.setLink(types.LinkFault, rerr)
		}
		return out, err
	}
	if res.Ran {
		s.mu.Lock()
		s.info.CalCount = res.Ledger.CalCount
		s.info.TuneVersion = res.Ledger.TuneFixVersion
		s.info.AutoTuned = res.Ledger.AutoTuned()
		s.mu.Unlock()
		s.publishInfo()
	}
	return out, nil
}

var touchModes = map[uint16]bool{
	bt532.ModePoint: true, bt532.ModeDelta: true, bt532.ModeNormal: true,
	bt532.ModeReference: true, bt532.ModeRef: true, bt532.ModeDND: true,
	bt532.ModeHFDND: true, bt532.ModeTxShort: true, bt532.ModeRxShort: true,
	bt532.ModeJitter: true, bt532.ModeSelfDND: true, bt532.ModeSEC: true,
}

func (s *Service) setMode(mode uint16) error {
	if !touchModes[mode] {
		return &errcode.E{C: errcode.InvalidParams, Op: VerbSetMode, Msg: fmt.Sprintf("unknown touch mode %d", mode)}
	}
	g, err := s.arb.Enter(arbiter.ModeSet)
	if err != nil {
		return err
	}
	defer g.Release()
	if s.dec == nil {
		return errcode.NotReady
	}
	s.wd.Stop()
	err = s.dev.SetTouchMode(mode)
	if err == nil {
		s.mode = mode
		s.mu.Lock()
		s.info.TouchMode = mode
		s.mu.Unlock()
		s.publishInfo()
	}
	if s.mode == bt532.ModePoint {
		s.wd.Start()
	}
	return err
}

// decodeJSON accepts raw JSON, a JSON string, or an already decoded value.
func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	case T:
		*dst = v
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
