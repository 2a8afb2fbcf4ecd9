package bt532_test

import (
	"errors"
	"reflect"
	"testing"

	"bt532-go/drivers/bt532"
	"bt532-go/drivers/bt532/bt532test"
)

func TestLedgerBumpSaturates(t *testing.T) {
	l := bt532.Ledger{CalCount: bt532.CalMaxMagic - 1}
	l.Bump(bt532.CalMaxMagic)
	l.Bump(bt532.CalMaxMagic)
	l.Bump(0xFF)
	if l.CalCount != bt532.CalMaxMagic {
		t.Fatalf("CalCount = %#x, want %#x", l.CalCount, bt532.CalMaxMagic)
	}
	l = bt532.Ledger{CalCount: 1}
	l.Bump(2)
	l.Bump(2)
	if l.CalCount != 2 {
		t.Fatalf("CalCount = %d, want 2", l.CalCount)
	}
}

func TestLedgerAutoTuned(t *testing.T) {
	cases := []struct {
		count uint8
		want  bool
	}{
		{0, false},
		{bt532.CalMagic - 1, false},
		{bt532.CalMagic, true},
		{bt532.CalMaxMagic, true},
		{bt532.CalUnset, false},
	}
	for _, c := range cases {
		if got := (bt532.Ledger{CalCount: c.count}).AutoTuned(); got != c.want {
			t.Errorf("AutoTuned(%#x) = %v, want %v", c.count, got, c.want)
		}
	}
}

func TestLedgerStampVersions(t *testing.T) {
	var l bt532.Ledger
	l.StampVersions(bt532.Versions{Major: 0x12, Minor: 0x34, RegData: 0x1ABC})
	if l.TuneFixVersion != 0x24BC {
		t.Fatalf("TuneFixVersion = %#x, want 0x24bc", l.TuneFixVersion)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, nil)
	want := bt532.Ledger{CalCount: bt532.CalMagic, TuneFixVersion: 0x2105}
	if err := d.WriteLedger(want); err != nil {
		t.Fatalf("WriteLedger: %v", err)
	}
	got, err := d.ReadLedger()
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if got != want {
		t.Fatalf("ledger = %+v, want %+v", got, want)
	}
	ops := chip.Ops()
	wantOps := []string{"lock", "write", "save", "write", "save", "write", "save", "unlock", "lock", "unlock"}
	if !reflect.DeepEqual(ops, wantOps) {
		t.Fatalf("nv ops = %v", ops)
	}
	if chip.Unsaved() {
		t.Fatal("every write must be committed")
	}
}

func TestLedgerUnlockFailureKeepsWrite(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, nil)
	chip.FailUnlock = true
	err := d.WriteLedger(bt532.Ledger{CalCount: 9})
	var ue *bt532.UnlockError
	if !errors.As(err, &ue) {
		t.Fatalf("want UnlockError, got %v", err)
	}
	if chip.NVByte(int(bt532.LedgerRecord)) != 9 {
		t.Fatal("count must be stored despite the unlock failure")
	}
}

func TestPolicyDue(t *testing.T) {
	erased := bt532.Ledger{CalCount: bt532.CalUnset}
	tuned := bt532.Ledger{CalCount: bt532.CalMagic, TuneFixVersion: 0x0100}
	zero := bt532.Ledger{}
	cases := []struct {
		name string
		p    bt532.CalPolicy
		in   bt532.CalInputs
		want bool
	}{
		{"forced", bt532.PolicyNone, bt532.CalInputs{Ledger: tuned, Forced: true, LatestFirmware: true}, true},
		{"none ignores eeprom bit", bt532.PolicyNone, bt532.CalInputs{Ledger: bt532.Ledger{CalCount: 1}, EEPROMNeedsCal: true}, false},
		{"none ignores new fw", bt532.PolicyNone, bt532.CalInputs{Ledger: tuned}, false},
		{"erased", bt532.PolicyNone, bt532.CalInputs{Ledger: erased, LatestFirmware: true}, true},
		{"none zero", bt532.PolicyNone, bt532.CalInputs{Ledger: zero, LatestFirmware: true}, true},
		{"none counted", bt532.PolicyNone, bt532.CalInputs{Ledger: tuned, LatestFirmware: true}, false},
		{"mismatch latest", bt532.PolicyClearOnMismatch, bt532.CalInputs{Ledger: tuned, LatestFirmware: true}, false},
		{"mismatch new fw", bt532.PolicyClearOnMismatch, bt532.CalInputs{Ledger: tuned}, true},
		{"mismatch eeprom bit", bt532.PolicyClearOnMismatch, bt532.CalInputs{Ledger: tuned, LatestFirmware: true, EEPROMNeedsCal: true}, true},
		{"magic tuned", bt532.PolicyMagicVersion, bt532.CalInputs{Ledger: tuned, LatestFirmware: true}, false},
		{"magic new fw", bt532.PolicyMagicVersion, bt532.CalInputs{Ledger: tuned}, true},
		{"magic eeprom bit", bt532.PolicyMagicVersion, bt532.CalInputs{Ledger: tuned, LatestFirmware: true, EEPROMNeedsCal: true}, true},
		{"magic old tune", bt532.PolicyMagicVersion, bt532.CalInputs{Ledger: tuned, LatestFirmware: true, MinTuneVersion: 0x0200}, true},
		{"magic repat", bt532.PolicyMagicVersion, bt532.CalInputs{Ledger: tuned, LatestFirmware: true, ForceRepat: true}, true},
		{"force zero", bt532.PolicyForceUpdate, bt532.CalInputs{Ledger: zero}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Due(tc.in); got != tc.want {
				t.Fatalf("%v.Due(%+v) = %v, want %v", tc.p, tc.in, got, tc.want)
			}
		})
	}
}

func TestPolicyAfter(t *testing.T) {
	live := bt532.Versions{Major: 1, Minor: 2, RegData: 3}
	in := bt532.CalInputs{Ledger: bt532.Ledger{CalCount: bt532.CalMagic}}

	if l := bt532.PolicyNone.After(in, live); l.CalCount != 0 {
		t.Fatalf("none: %+v", l)
	}
	if l := bt532.PolicyClearOnMismatch.After(in, live); l.CalCount != 0 || l.TuneFixVersion != 0x1203 {
		t.Fatalf("clear: %+v", l)
	}
	if l := bt532.PolicyMagicVersion.After(bt532.CalInputs{}, live); l.CalCount != bt532.CalMagic {
		t.Fatalf("magic: %+v", l)
	}
	in.ForceRepat = true
	if l := bt532.PolicyMagicVersion.After(in, live); l.CalCount != bt532.CalMagic+1 {
		t.Fatalf("repat: %+v", l)
	}
	in.Ledger.CalCount = bt532.CalMaxMagic
	if l := bt532.PolicyForceUpdate.After(in, live); l.CalCount != bt532.CalMaxMagic {
		t.Fatalf("repat at max: %+v", l)
	}
}

func TestParsePolicy(t *testing.T) {
	for p := bt532.PolicyNone; p <= bt532.PolicyForceUpdate; p++ {
		got, err := bt532.ParsePolicy(p.String())
		if err != nil || got != p {
			t.Fatalf("ParsePolicy(%q) = %v, %v", p.String(), got, err)
		}
	}
	if _, err := bt532.ParsePolicy("sometimes"); err == nil {
		t.Fatal("unknown policy must fail")
	}
}

func TestApplyCalibrationMagic(t *testing.T) {
	chip := bt532test.New()
	chip.SetNV(int(bt532.LedgerRecord), 0)
	chip.CalBusyReads = 3
	d, _, _ := newDevice(t, chip, nil)
	if _, err := d.ReadIdentity(); err != nil {
		t.Fatal(err)
	}

	res, err := d.ApplyCalibration(bt532.PolicyMagicVersion, bt532.CalInputs{LatestFirmware: true})
	if err != nil {
		t.Fatalf("ApplyCalibration: %v", err)
	}
	if !res.Ran || res.Ledger.CalCount != bt532.CalMagic {
		t.Fatalf("result = %+v", res)
	}
	if n := chip.CountCmd(bt532.CmdCalibrate); n != 1 {
		t.Fatalf("calibrate commands = %d, want 1", n)
	}
	if chip.CountCmd(bt532.CmdSaveCal) != 1 {
		t.Fatal("calibration must be saved")
	}
	if chip.NVByte(int(bt532.LedgerRecord)) != bt532.CalMagic {
		t.Fatal("magic not persisted")
	}
	if chip.NVByte(int(bt532.LedgerRecord)+4) != 0x10 {
		t.Fatalf("fix version = %#x, want 0x10", chip.NVByte(int(bt532.LedgerRecord)+4))
	}

	// Second run: tuned, nothing to do.
	res, err = d.ApplyCalibration(bt532.PolicyMagicVersion, bt532.CalInputs{LatestFirmware: true})
	if err != nil || res.Ran {
		t.Fatalf("second run = %+v, %v", res, err)
	}
}

func TestApplyCalibrationNoneIgnoresEEPROMBit(t *testing.T) {
	chip := bt532test.New()
	chip.SetNV(int(bt532.LedgerRecord), 1)
	chip.SetReg(bt532.RegEEPROMInfo, 1)
	d, _, _ := newDevice(t, chip, nil)

	res, err := d.ApplyCalibration(bt532.PolicyNone, bt532.CalInputs{LatestFirmware: true})
	if err != nil {
		t.Fatalf("ApplyCalibration: %v", err)
	}
	if res.Ran || chip.CountCmd(bt532.CmdCalibrate) != 0 {
		t.Fatal("a counted ledger under PolicyNone must not calibrate on the EEPROM bit")
	}

	// The bit stays set here, so a policy that honours it calibrates and
	// then times out waiting for the bit to clear.
	_, err = d.ApplyCalibration(bt532.PolicyMagicVersion, bt532.CalInputs{LatestFirmware: true})
	if !errors.Is(err, bt532.ErrCalibrationTimeout) || chip.CountCmd(bt532.CmdCalibrate) == 0 {
		t.Fatalf("magic policy must honour the EEPROM bit: %v", err)
	}
}

func TestHardwareCalibrateTimeout(t *testing.T) {
	chip := bt532test.New()
	chip.CalBusyReads = 1000
	d, _, _ := newDevice(t, chip, nil)
	if err := d.HardwareCalibrate(); !errors.Is(err, bt532.ErrCalibrationTimeout) {
		t.Fatalf("want ErrCalibrationTimeout, got %v", err)
	}
	// One initial command and one mid-poll kick.
	if n := chip.CountCmd(bt532.CmdCalibrate); n != 2 {
		t.Fatalf("calibrate commands = %d, want 2", n)
	}
	if chip.CountCmd(bt532.CmdSaveCal) != 0 {
		t.Fatal("timed-out calibration must not be saved")
	}
}
