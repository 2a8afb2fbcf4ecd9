package bt532

import (
	"errors"
	"fmt"
	"time"
)

// BringupPlan is the input to Bringup.
type BringupPlan struct {
	Image      *Image    // nil when no image is available
	Directive  Directive // FirmwareNormal unless the caller forces
	ForceRepat bool
	// Flashed reports that the caller wrote new firmware just before this
	// run, so calibration treats it as an update.
	Flashed bool
}

// BringupReport records what a Bringup run did.
type BringupReport struct {
	Attempts    int
	Recovered   bool // success came from the final forced reflash
	Firmware    UpdateResult
	Calibration CalibrationResult
	Caps        Capabilities
}

const (
	resetSettle = 10 * time.Millisecond
	modeGap     = 20 * time.Millisecond
	drainGap    = 10 * time.Microsecond
)

// Bringup takes a powered chip to a reporting state: checksum, identity,
// firmware decision, calibration, register programming. The chip must
// have been through PowerOnSequence. Failures retry the whole sequence
// with a power cycle in between; once retries are exhausted one forced
// reflash with recalibration is attempted before giving up.
func (d *Device) Bringup(u *Updater, plan BringupPlan) (BringupReport, error) {
	var rep BringupReport
	dir := plan.Directive
	if dir == FirmwareNormal && d.cfg.Policy.ForcesReflash() {
		dir = FirmwareForce
	}
	if d.cfg.SkipFirmware {
		dir = FirmwareSkip
	}

	err := retry(d.cfg.Retries, "bringup", func(attempt int) error {
		rep.Attempts = attempt + 1
		if attempt > 0 {
			if err := d.PowerCycle(); err != nil {
				return err
			}
		}
		return d.bringupOnce(u, plan, dir, false, &rep)
	})
	if err == nil {
		return rep, nil
	}
	if dir == FirmwareSkip || plan.Image == nil || IsPermanent(err) {
		return rep, fmt.Errorf("bringup: %w", err)
	}

	rep.Recovered = true
	rep.Attempts++
	if perr := d.PowerCycle(); perr != nil {
		return rep, fmt.Errorf("bringup recovery: %w", errors.Join(err, perr))
	}
	if rerr := d.bringupOnce(u, plan, FirmwareForce, true, &rep); rerr != nil {
		return rep, fmt.Errorf("bringup recovery: %w", errors.Join(err, rerr))
	}
	return rep, nil
}

func (d *Device) bringupOnce(u *Updater, plan BringupPlan, dir Directive, forceCal bool, rep *BringupReport) error {
	// 1. checksum
	if d.cfg.UseChecksum {
		ok, err := d.ChecksumOK()
		if err != nil {
			return err
		}
		if !ok {
			if dir == FirmwareSkip {
				return ErrChecksumMismatch
			}
			dir = FirmwareForce
		}
	}

	// 2. identity
	if err := d.Command(CmdSoftReset); err != nil {
		return err
	}
	d.delay(resetSettle)
	if _, err := d.ReadIdentity(); err != nil {
		return err
	}

	// 3. firmware
	fw, err := u.Update(plan.Image, dir)
	rep.Firmware = fw
	if err != nil {
		if IsPermanent(err) {
			return permanent(err)
		}
		return err
	}
	if fw.Flashed {
		if _, err := d.ReadIdentity(); err != nil {
			return err
		}
	}

	// 4. calibration
	cal, err := d.ApplyCalibration(d.cfg.Policy, CalInputs{
		Forced:         forceCal,
		LatestFirmware: !fw.Flashed && !plan.Flashed,
		ForceRepat:     plan.ForceRepat,
		MinTuneVersion: d.cfg.MinTuneVersion,
	})
	rep.Calibration = cal
	if err != nil {
		return err
	}

	// 5. registers
	if err := d.program(); err != nil {
		return err
	}
	rep.Caps = d.caps
	return nil
}

// program writes the board configuration and arms the chip's interrupt
// sources. The host side of the interrupt is left to the caller.
func (d *Device) program() error {
	c := d.caps
	writes := [...]struct{ reg, val uint16 }{
		{RegIntMask, 0},
		{RegXResolution, c.MaxX},
		{RegYResolution, c.MaxY},
		{RegButtonCount, uint16(c.Buttons)},
		{RegSupportedFingers, uint16(c.Fingers)},
		{RegInitialTouchMode, d.cfg.TouchMode},
		{RegTouchMode, d.cfg.TouchMode},
		{RegPeriodicIntv, Heartbeat},
		{RegIntMask, c.IntMask},
	}
	for _, w := range writes {
		if err := d.WriteWord(w.reg, w.val); err != nil {
			return err
		}
	}
	d.drainInt(staleClearCount, drainGap)
	return nil
}

// FastResume re-arms a chip that kept its firmware and calibration: soft
// reset, touch mode, cover state, interrupt mask, stale-interrupt drain and
// the heartbeat interval.
func (d *Device) FastResume() error {
	if err := d.Command(CmdSoftReset); err != nil {
		return err
	}
	if err := d.WriteWord(RegTouchMode, d.cfg.TouchMode); err != nil {
		return err
	}
	if err := d.WriteWord(RegCoverControl, coverOpen); err != nil {
		return err
	}
	if err := d.WriteWord(RegIntMask, d.caps.IntMask); err != nil {
		return err
	}
	d.drainInt(staleClearCount, drainGap)
	return d.SetPeriodicInterval(Heartbeat)
}

// SetTouchMode switches between point reporting and the diagnostic modes.
// The mode sticks across FastResume.
func (d *Device) SetTouchMode(mode uint16) error {
	for i := 0; i < 2; i++ {
		if err := d.Wake(); err != nil {
			return err
		}
		d.delay(modeGap)
	}
	if mode != ModePoint {
		if err := d.WriteWord(RegRawDelay, rawDelayForHost); err != nil {
			return err
		}
	}
	if err := d.WriteWord(RegTouchMode, mode); err != nil {
		return err
	}
	d.cfg.TouchMode = mode
	d.drainInt(staleClearCount, modeGap)
	return nil
}

// Powered reports whether the last power operation left the chip on.
func (d *Device) Powered() bool { return d.powered }
