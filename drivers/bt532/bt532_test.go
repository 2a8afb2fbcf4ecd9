package bt532_test

import (
	"errors"
	"testing"
	"time"

	"bt532-go/drivers/bt532"
	"bt532-go/drivers/bt532/bt532test"
)

func noDelay(time.Duration) {}

func newDevice(t *testing.T, chip *bt532test.Chip, mod func(*bt532.Config)) (*bt532.Device, *bt532test.Supply, *bt532test.Line) {
	t.Helper()
	cfg := bt532.DefaultConfig()
	cfg.Delay = noDelay
	if mod != nil {
		mod(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	sup := &bt532test.Supply{}
	line := bt532test.NewLine(true)
	d := bt532.New(chip, sup, line, cfg)
	if err := d.PowerOnSequence(); err != nil {
		t.Fatalf("power on: %v", err)
	}
	return d, sup, line
}

// makeImage builds an image of n bytes with the given header versions.
func makeImage(t *testing.T, n int, major, minor, reg uint16) *bt532.Image {
	t.Helper()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	put := func(off int, v uint16) { b[off] = byte(v); b[off+1] = byte(v >> 8) }
	put(0x30, 0)
	put(0x34, major)
	put(0x38, minor)
	put(0x3C, reg)
	for _, off := range []int{0x61, 0x65} {
		b[off], b[off+1], b[off+2] = 0, 0, 0
	}
	b[0x6D] = 0
	img, err := bt532.ParseImage(b)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	return img
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*bt532.Config)
		ok   bool
	}{
		{"default", func(*bt532.Config) {}, true},
		{"zero fingers", func(c *bt532.Config) { c.Fingers = 0 }, false},
		{"too many buttons", func(c *bt532.Config) { c.Buttons = bt532.MaxButtons + 1 }, false},
		{"bad flip", func(c *bt532.Config) { c.Flip = 0x80 }, false},
		{"no retries", func(c *bt532.Config) { c.Retries = 0 }, false},
		{"no bounds", func(c *bt532.Config) { c.MaxX = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := bt532.DefaultConfig()
			tc.mod(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestIntMask(t *testing.T) {
	c := bt532.DefaultConfig()
	c.Palm = false
	if got := c.IntMask(); got != 0x000F {
		t.Fatalf("IntMask = %#x, want 0x000f", got)
	}
	c.Palm = true
	c.Buttons = 2
	if got := c.IntMask(); got != 0x803F {
		t.Fatalf("IntMask = %#x, want 0x803f", got)
	}
}

func TestSelectRetriesThenTransportError(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, nil)

	chip.FailReg(bt532.RegVendorID, 3)
	if _, err := d.ReadWord(bt532.RegVendorID); err != nil {
		t.Fatalf("transient NAK should be absorbed: %v", err)
	}

	chip.FailReg(bt532.RegVendorID, 100)
	_, err := d.ReadWord(bt532.RegVendorID)
	if !errors.Is(err, bt532.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
	var te *bt532.TransportError
	if !errors.As(err, &te) || te.Reg != bt532.RegVendorID {
		t.Fatalf("want TransportError for vendor reg, got %v", err)
	}
}

func TestReadIdentity(t *testing.T) {
	chip := bt532test.New()
	chip.SetReg(bt532.RegVendorID, 0x5A49)
	chip.SetReg(bt532.RegChipRevision, 0x0003)
	chip.SetVersions(2, 1, 5)
	chip.SetReg(bt532.RegHardwareID, 0x0042)
	chip.SetReg(bt532.RegXNodes, 18)
	chip.SetReg(bt532.RegYNodes, 30)
	d, _, _ := newDevice(t, chip, nil)

	c, err := d.ReadIdentity()
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	if c.VendorID != 0x5A49 || c.ChipRevision != 3 || c.HardwareID != 0x42 {
		t.Fatalf("identity = %+v", c)
	}
	if c.Firmware != (bt532.Versions{Major: 2, Minor: 1, RegData: 5}) {
		t.Fatalf("firmware = %v", c.Firmware)
	}
	if c.TotalNodes != 18*30 {
		t.Fatalf("TotalNodes = %d", c.TotalNodes)
	}
	if c.ChipCode != bt532.ChipZT7548 || c.FlashSize != 48*1024 {
		t.Fatalf("chip = %#x flash = %d", c.ChipCode, c.FlashSize)
	}
}

func TestPowerOnSequenceRetries(t *testing.T) {
	chip := bt532test.New()
	cfg := bt532.DefaultConfig()
	cfg.Delay = noDelay
	sup := &bt532test.Supply{}
	d := bt532.New(chip, sup, nil, cfg)

	// The first enable write NAKs; the second attempt must succeed.
	chip.FailReg(bt532.VRegCmdEnable, 1)
	if err := d.PowerOnSequence(); err != nil {
		t.Fatalf("PowerOnSequence: %v", err)
	}
	if !d.Powered() || !sup.On() {
		t.Fatal("chip should be powered")
	}
	if sup.Ons() != 2 {
		t.Fatalf("supply cycles = %d, want 2", sup.Ons())
	}

	chip.FailReg(bt532.VRegCmdEnable, 10)
	err := d.PowerCycle()
	var re *bt532.RetryError
	if !errors.As(err, &re) || re.Attempts != bt532.InitRetryCount {
		t.Fatalf("want RetryError after %d attempts, got %v", bt532.InitRetryCount, err)
	}
}

func TestSetTouchMode(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, nil)

	if err := d.SetTouchMode(bt532.ModeDelta); err != nil {
		t.Fatalf("SetTouchMode: %v", err)
	}
	if chip.Reg(bt532.RegTouchMode) != bt532.ModeDelta {
		t.Fatal("touch mode not written")
	}
	if len(chip.Writes(bt532.RegRawDelay)) != 1 {
		t.Fatal("diagnostic mode must set the raw delay")
	}
	if d.Config().TouchMode != bt532.ModeDelta {
		t.Fatal("mode must persist in the config")
	}
	if err := d.FastResume(); err != nil {
		t.Fatalf("FastResume: %v", err)
	}
	if chip.Reg(bt532.RegTouchMode) != bt532.ModeDelta {
		t.Fatal("fast resume must restore the selected mode")
	}
}
