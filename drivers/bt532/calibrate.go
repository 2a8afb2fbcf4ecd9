package bt532

import (
	"errors"
	"fmt"
	"time"
)

// CalPolicy selects when bringup recalibrates the sensor.
type CalPolicy uint8

const (
	PolicyNone CalPolicy = iota
	PolicyClearOnMismatch
	PolicyMagicVersion
	PolicyForceUpdate
)

func (p CalPolicy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyClearOnMismatch:
		return "clear_on_mismatch"
	case PolicyMagicVersion:
		return "magic_version"
	case PolicyForceUpdate:
		return "force_update"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts the names produced by String.
func ParsePolicy(s string) (CalPolicy, error) {
	for p := PolicyNone; p <= PolicyForceUpdate; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown calibration policy %q", s)
}

// CalInputs is everything a policy looks at.
type CalInputs struct {
	Ledger         Ledger
	Forced         bool // operator request or recovery path
	EEPROMNeedsCal bool // the chip's "calibration needed" bit
	LatestFirmware bool // no new firmware was written for this bringup
	ForceRepat     bool // operator asked for a fresh auto-tune
	MinTuneVersion uint16
}

// Due reports whether a hardware calibration must run.
// PolicyNone looks only at the stored count; the EEPROM bit does not
// override it.
func (p CalPolicy) Due(in CalInputs) bool {
	if in.Forced || in.Ledger.Uninitialised() {
		return true
	}
	switch p {
	case PolicyNone:
		return in.Ledger.CalCount == 0
	case PolicyClearOnMismatch:
		return in.EEPROMNeedsCal || !in.LatestFirmware
	case PolicyMagicVersion, PolicyForceUpdate:
		return in.EEPROMNeedsCal || !in.LatestFirmware ||
			in.Ledger.CalCount == 0 ||
			in.MinTuneVersion > in.Ledger.TuneFixVersion ||
			in.ForceRepat
	}
	return false
}

// After returns the ledger to persist once a calibration has run.
func (p CalPolicy) After(in CalInputs, live Versions) Ledger {
	l := in.Ledger
	if l.Uninitialised() {
		l.CalCount = 0
	}
	switch p {
	case PolicyNone:
		l.CalCount = 0
	case PolicyClearOnMismatch:
		l.CalCount = 0
		l.StampVersions(live)
	case PolicyMagicVersion, PolicyForceUpdate:
		if in.ForceRepat {
			l.Bump(CalMaxMagic)
		} else {
			l.CalCount = CalMagic
		}
		l.StampVersions(live)
	}
	return l
}

// ForcesReflash reports whether the policy also forces a firmware write.
func (p CalPolicy) ForcesReflash() bool { return p == PolicyForceUpdate }

const (
	calModeValue    = 0x07
	calPollBase     = 50 * time.Millisecond
	calPollMax      = 800 * time.Millisecond
	calPollLimit    = 10
	calKickAt       = 4
	calSaveSettle   = 700 * time.Millisecond
	clearGap        = 10 * time.Millisecond
	calEEPROMBitCal = 0
)

// NeedsCalibration reads the EEPROM "calibration needed" bit.
func (d *Device) NeedsCalibration() (bool, error) {
	v, err := d.ReadWord(RegEEPROMInfo)
	if err != nil {
		return false, err
	}
	return v&(1<<calEEPROMBitCal) != 0, nil
}

// HardwareCalibrate runs the chip's self-calibration and saves the result
// to its EEPROM. The touch mode and interrupt mask are restored on success.
func (d *Device) HardwareCalibrate() error {
	if err := d.WriteWord(RegTouchMode, calModeValue); err != nil {
		return err
	}
	d.delay(clearGap)
	_ = d.ClearInt()
	d.delay(clearGap)
	_ = d.ClearInt()
	d.delay(5 * clearGap)
	_ = d.ClearInt()
	d.delay(clearGap)

	if err := d.Command(CmdCalibrate); err != nil {
		return err
	}
	if err := d.ClearInt(); err != nil {
		return err
	}
	d.delay(clearGap)
	_ = d.ClearInt()

	if err := d.pollCalibration(); err != nil {
		return err
	}

	if err := d.WriteWord(RegTouchMode, d.cfg.TouchMode); err != nil {
		return err
	}
	if err := d.WriteWord(RegIntMask, d.caps.IntMask); err != nil {
		return err
	}
	d.delay(clearGap)
	return d.saveCalibration()
}

// pollCalibration waits for the busy bit to clear with a doubling delay.
// One extra calibrate command is issued part way through.
func (d *Device) pollCalibration() error {
	wait := calPollBase
	kicked := false
	for i := 0; i < calPollLimit; i++ {
		d.delay(wait)
		if wait < calPollMax {
			wait *= 2
		}
		_ = d.ClearInt()
		busy, err := d.NeedsCalibration()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if i == calKickAt && !kicked {
			kicked = true
			_ = d.Command(CmdCalibrate)
			d.delay(clearGap)
			_ = d.ClearInt()
		}
	}
	return ErrCalibrationTimeout
}

func (d *Device) saveCalibration() error {
	if err := d.WriteWord(VRegNVMVpp, 1); err != nil {
		return err
	}
	if err := d.WriteWord(VRegWriteEnable, 1); err != nil {
		return err
	}
	d.delay(clearGap)
	if err := d.Command(CmdSaveCal); err != nil {
		return err
	}
	d.delay(calSaveSettle)
	if err := d.WriteWord(VRegNVMVpp, 0); err != nil {
		return err
	}
	return d.WriteWord(VRegWriteEnable, 0)
}

// CalibrationResult describes what ApplyCalibration did.
type CalibrationResult struct {
	Ran    bool
	Ledger Ledger
	// UnlockErr is set when the ledger was written but the NV bracket could
	// not be closed. The calibration itself stands.
	UnlockErr error
}

// ApplyCalibration evaluates policy against the stored ledger and the
// EEPROM bit, calibrates if due and persists the new ledger.
func (d *Device) ApplyCalibration(p CalPolicy, in CalInputs) (CalibrationResult, error) {
	l, err := d.ReadLedger()
	if err != nil {
		return CalibrationResult{}, err
	}
	in.Ledger = l
	needs, err := d.NeedsCalibration()
	if err != nil {
		return CalibrationResult{}, err
	}
	in.EEPROMNeedsCal = needs
	if !p.Due(in) {
		return CalibrationResult{Ledger: l}, nil
	}
	if err := d.HardwareCalibrate(); err != nil {
		return CalibrationResult{}, err
	}
	next := p.After(in, d.caps.Firmware)
	res := CalibrationResult{Ran: true, Ledger: next}
	if err := d.WriteLedger(next); err != nil {
		var ue *UnlockError
		if errors.As(err, &ue) {
			res.UnlockErr = err
			return res, nil
		}
		return res, err
	}
	return res, nil
}
