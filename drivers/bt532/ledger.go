package bt532

import (
	"fmt"
	"time"
)

// Ledger is the calibration record kept in the controller's NV area.
type Ledger struct {
	CalCount uint8
	// TuneFixVersion is fix<<8 | dummy, the two persisted version bytes.
	TuneFixVersion uint16
	TestResult     uint8
}

// Uninitialised reports an erased record.
func (l Ledger) Uninitialised() bool { return l.CalCount == CalUnset }

// AutoTuned reports whether the magic sentinel (or anything above it) is stored.
func (l Ledger) AutoTuned() bool { return !l.Uninitialised() && l.CalCount >= CalMagic }

// Bump increments the count, never past max.
func (l *Ledger) Bump(max uint8) {
	if max > CalMaxMagic {
		max = CalMaxMagic
	}
	if l.CalCount >= max {
		l.CalCount = max
		return
	}
	l.CalCount++
}

// StampVersions refreshes both version bytes from the running firmware.
func (l *Ledger) StampVersions(v Versions) {
	dummy := uint16(v.RegData & 0xFF)
	fix := (v.Major&0x0F)<<4 | v.Minor&0x0F
	l.TuneFixVersion = fix<<8 | dummy
}

const (
	nvLockSettle  = 40 * time.Millisecond
	nvWriteSettle = 10 * time.Millisecond
	nvSaveSettle  = 30 * time.Millisecond
)

// withNV runs fn between the NV lock and unlock commands. A failed unlock
// is reported but does not undo anything fn wrote.
func (d *Device) withNV(fn func() error) error {
	if err := d.Command(CmdNVLock); err != nil {
		return fmt.Errorf("nv lock: %w", err)
	}
	err := fn()
	if uerr := d.Command(CmdNVUnlock); uerr != nil {
		if err == nil {
			return &UnlockError{Err: uerr}
		}
	}
	return err
}

// UnlockError is returned when the NV bracket could not be closed after a
// successful body.
type UnlockError struct{ Err error }

func (e *UnlockError) Error() string { return "nv unlock: " + e.Err.Error() }
func (e *UnlockError) Unwrap() error { return e.Err }

func (d *Device) nvRead(off uint16, p []byte) error {
	if len(p) > nvMaxLen {
		p = p[:nvMaxLen]
	}
	d.delay(nvLockSettle)
	return d.readRaw(NVBase+off, p)
}

// nvWrite stores p and commits it. Must run inside withNV.
func (d *Device) nvWrite(off uint16, p []byte) error {
	if len(p) > nvMaxLen {
		p = p[:nvMaxLen]
	}
	if err := d.WriteData(NVBase+off, p); err != nil {
		return err
	}
	if err := d.WriteWord(VRegWriteEnable, 1); err != nil {
		return err
	}
	d.delay(nvWriteSettle)
	if err := d.Command(CmdNVSave); err != nil {
		return err
	}
	d.delay(nvSaveSettle)
	if err := d.WriteWord(VRegWriteEnable, 0); err != nil {
		return err
	}
	d.delay(nvWriteSettle)
	return nil
}

// ReadLedger loads the calibration record and the factory test byte.
func (d *Device) ReadLedger() (Ledger, error) {
	var l Ledger
	err := d.withNV(func() error {
		var t [2]byte
		if err := d.nvRead(LedgerTestData, t[:]); err != nil {
			return err
		}
		var rec [ledgerRecordSize]byte
		if err := d.nvRead(LedgerRecord, rec[:]); err != nil {
			return err
		}
		l.TestResult = t[0]
		l.CalCount = rec[ledgerCountOff]
		l.TuneFixVersion = uint16(rec[ledgerFixOff])<<8 | uint16(rec[ledgerDummyOff])
		return nil
	})
	if err != nil {
		return Ledger{}, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

// WriteLedger persists count, dummy/version and fix-version as three
// separate NV commits, in that order. Not atomic.
func (d *Device) WriteLedger(l Ledger) error {
	err := d.withNV(func() error {
		fields := [...]struct {
			off uint16
			val byte
		}{
			{LedgerRecord + ledgerCountOff, l.CalCount},
			{LedgerRecord + ledgerDummyOff, byte(l.TuneFixVersion)},
			{LedgerRecord + ledgerFixOff, byte(l.TuneFixVersion >> 8)},
		}
		for _, f := range fields {
			if err := d.nvWrite(f.off, []byte{f.val, 0}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
