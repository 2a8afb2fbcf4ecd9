package bt532

import (
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"
)

// Power switches the controller supply (regulator or enable GPIO).
type Power interface {
	SetPower(on bool) error
}

// IntLine reads the raw level of the active-low interrupt output.
type IntLine interface {
	Get() bool
}

// Config is the board description of one controller.
type Config struct {
	Address uint16

	MaxX, MaxY uint16 // resolution bounds reported to the host
	Fingers    int    // slots decoded per frame, 1..MaxFingers
	Buttons    int    // touch-key count, 0..MaxButtons
	Flip       uint8  // FlipV | FlipH | SwapXY
	TouchMode  uint16 // programmed at init and after every fast resume
	Palm       bool   // enable palm and palm-reject interrupt bits

	UseChecksum bool // require ChecksumGood before trusting the firmware

	ChipOnDelay     time.Duration
	ChipOffDelay    time.Duration
	FirmwareOnDelay time.Duration

	Policy         CalPolicy
	MinTuneVersion uint16 // MagicVersion/ForceUpdate recalibrate below this
	SkipFirmware   bool   // bring-up boards: never touch the flash
	Retries        int    // whole-sequence retries for bringup and flashing

	// Delay replaces time.Sleep (tests).
	Delay func(time.Duration)
}

// DefaultConfig mirrors the reference board.
func DefaultConfig() Config {
	return Config{
		Address:         AddressDefault,
		MaxX:            720,
		MaxY:            1280,
		Fingers:         DefaultFingers,
		TouchMode:       ModePoint,
		Palm:            true,
		UseChecksum:     true,
		ChipOnDelay:     50 * time.Millisecond,
		ChipOffDelay:    50 * time.Millisecond,
		FirmwareOnDelay: 150 * time.Millisecond,
		Policy:          PolicyMagicVersion,
		Retries:         InitRetryCount,
	}
}

func (c Config) Validate() error {
	if c.Address == 0 {
		return errors.New("Address must be non-zero (use AddressDefault)")
	}
	if c.MaxX == 0 || c.MaxY == 0 {
		return errors.New("MaxX and MaxY must be set")
	}
	if c.Fingers < 1 || c.Fingers > MaxFingers {
		return fmt.Errorf("Fingers must be 1..%d", MaxFingers)
	}
	if c.Buttons < 0 || c.Buttons > MaxButtons {
		return fmt.Errorf("Buttons must be 0..%d", MaxButtons)
	}
	if c.Flip&^flipMask != 0 {
		return errors.New("Flip has unknown bits")
	}
	if c.Policy > PolicyForceUpdate {
		return errors.New("unknown calibration policy")
	}
	if c.Retries < 1 {
		return errors.New("Retries must be at least 1")
	}
	return nil
}

// Versions identifies a firmware build.
type Versions struct {
	Major   uint16
	Minor   uint16
	RegData uint16
}

func (v Versions) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.RegData)
}

// Capabilities describes the attached chip. A fresh value is produced by
// each bringup and is not modified afterwards.
type Capabilities struct {
	VendorID     uint16
	ChipRevision uint16
	HardwareID   uint16
	ChipCode     uint16
	Firmware     Versions

	XNodes, YNodes uint16
	TotalNodes     int
	MaxX, MaxY     uint16
	Buttons        int
	Fingers        int
	IntMask        uint16
	UseChecksum    bool

	Threshold    uint16
	AFEFrequency uint16
	DNDShift     uint16
	FlashSize    int
}

// Device is one BT532-family controller. It is not safe for concurrent use;
// callers serialise access.
type Device struct {
	i2c   drivers.I2C
	addr  uint16
	cfg   Config
	power Power
	intr  IntLine
	delay func(time.Duration)

	caps     Capabilities
	chipCode uint16
	powered  bool

	// Fixed buffers to avoid per-call heap allocations.
	sel  [2]byte
	w    [2 + maxWriteChunk]byte
	r    [identityBlockSize]byte
	fbuf [frameHeaderSize + MaxFingers*coordRecordSize]byte
}

// New constructs a Device. power and intr may be nil when the board wires
// the supply permanently on or leaves the interrupt unconnected.
func New(i2c drivers.I2C, power Power, intr IntLine, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = AddressDefault
	}
	d := &Device{
		i2c:   i2c,
		addr:  cfg.Address,
		cfg:   cfg,
		power: power,
		intr:  intr,
		delay: cfg.Delay,
	}
	if d.delay == nil {
		d.delay = time.Sleep
	}
	d.caps = d.baseCaps()
	return d
}

func (d *Device) Config() Config { return d.cfg }

// Capabilities returns the description captured by the last bringup.
func (d *Device) Capabilities() Capabilities { return d.caps }

// IntAsserted reports whether the interrupt line is being held low.
// Without a line it reports true so callers always clear.
func (d *Device) IntAsserted() bool {
	if d.intr == nil {
		return true
	}
	return !d.intr.Get()
}

// IntMask is the interrupt-enable mask implied by the config.
func (c Config) IntMask() uint16 {
	m := uint16(1<<StatusCountChange | 1<<StatusDown | 1<<StatusMove | 1<<StatusUp)
	if c.Palm {
		m |= 1<<StatusPalm | 1<<StatusPalmReject
	}
	if c.Buttons > 0 {
		m |= 1 << StatusButton
	}
	return m
}

func (d *Device) baseCaps() Capabilities {
	return Capabilities{
		MaxX:        d.cfg.MaxX,
		MaxY:        d.cfg.MaxY,
		Buttons:     d.cfg.Buttons,
		Fingers:     d.cfg.Fingers,
		IntMask:     d.cfg.IntMask(),
		UseChecksum: d.cfg.UseChecksum,
		ChipCode:    d.chipCode,
		FlashSize:   flashSize(d.chipCode),
	}
}

// ReadVersions reads the running firmware identity.
func (d *Device) ReadVersions() (Versions, uint16, error) {
	minor, err := d.ReadWord(RegMinorVersion)
	if err != nil {
		return Versions{}, 0, err
	}
	blk := d.r[:identityBlockSize]
	if err := d.ReadData(RegChipRevision, blk); err != nil {
		return Versions{}, 0, err
	}
	v := Versions{
		Major:   le16(blk[2:]),
		Minor:   minor,
		RegData: le16(blk[4:]),
	}
	return v, le16(blk[6:]), nil
}

// ReadIdentity rebuilds the capability description from the chip.
func (d *Device) ReadIdentity() (Capabilities, error) {
	c := d.baseCaps()
	var err error
	if c.VendorID, err = d.ReadWord(RegVendorID); err != nil {
		return Capabilities{}, err
	}
	if c.Firmware, c.HardwareID, err = d.ReadVersions(); err != nil {
		return Capabilities{}, err
	}
	c.ChipRevision = le16(d.r[0:])
	if c.Threshold, err = d.ReadWord(RegThreshold); err != nil {
		return Capabilities{}, err
	}
	nodes := d.r[:4]
	if err := d.ReadData(RegXNodes, nodes); err != nil {
		return Capabilities{}, err
	}
	c.XNodes = le16(nodes[0:])
	c.YNodes = le16(nodes[2:])
	c.TotalNodes = int(c.XNodes) * int(c.YNodes)
	if c.AFEFrequency, err = d.ReadWord(RegAFEFrequency); err != nil {
		return Capabilities{}, err
	}
	if c.DNDShift, err = d.ReadWord(RegDNDShift); err != nil {
		return Capabilities{}, err
	}
	d.caps = c
	return c, nil
}

// ChecksumOK reads the firmware self-check register.
func (d *Device) ChecksumOK() (bool, error) {
	v, err := d.ReadWord(RegChecksum)
	if err != nil {
		return false, err
	}
	return v == ChecksumGood, nil
}

// ---- power ----

// PowerOff removes power and waits for the supply to discharge.
func (d *Device) PowerOff() error {
	d.powered = false
	if d.power == nil {
		return nil
	}
	if err := d.power.SetPower(false); err != nil {
		return err
	}
	d.delay(d.cfg.ChipOffDelay)
	return nil
}

func (d *Device) powerOnRaw() error {
	if d.power != nil {
		if err := d.power.SetPower(true); err != nil {
			return err
		}
	}
	d.powered = true
	d.delay(d.cfg.ChipOnDelay)
	return nil
}

// PowerOnSequence powers the chip and starts its firmware from NVM.
func (d *Device) PowerOnSequence() error {
	return retry(InitRetryCount, "power_on", func(attempt int) error {
		if attempt > 0 {
			_ = d.PowerOff()
		}
		if err := d.powerOnRaw(); err != nil {
			return err
		}
		if err := d.WriteWord(VRegCmdEnable, 1); err != nil {
			return err
		}
		d.delay(10 * time.Microsecond)
		code, err := d.ReadWord(VRegChipCode)
		if err != nil {
			return err
		}
		d.chipCode = code
		d.delay(10 * time.Microsecond)
		if err := d.Command(VCmdIntClear); err != nil {
			return err
		}
		d.delay(10 * time.Microsecond)
		if err := d.WriteWord(VRegNVMInit, 1); err != nil {
			return err
		}
		d.delay(2 * time.Millisecond)
		if err := d.WriteWord(VRegProgStart, 1); err != nil {
			return err
		}
		d.delay(d.cfg.FirmwareOnDelay)
		return nil
	})
}

// PowerCycle is PowerOff followed by PowerOnSequence.
func (d *Device) PowerCycle() error {
	if err := d.PowerOff(); err != nil {
		return err
	}
	return d.PowerOnSequence()
}

// Sleep puts the controller into its lowest scanning state.
func (d *Device) Sleep() error { return d.Command(CmdSleep) }

// Wake brings the controller out of sleep or idle.
func (d *Device) Wake() error { return d.Command(CmdWake) }

// SetPeriodicInterval programs the heartbeat interrupt; 0 disables it.
func (d *Device) SetPeriodicInterval(v uint16) error { return d.WriteWord(RegPeriodicIntv, v) }

// Heartbeat is the periodic-interrupt interval used while reporting.
const Heartbeat = uint16(scanRateHz * esdIntervalSecs)

// flashSize maps a chip code to its program flash size.
func flashSize(code uint16) int {
	switch code {
	case ChipZT7554:
		return 64 * 1024
	case ChipZT7548:
		return 48 * 1024
	case ChipZT7538, ChipZT7532:
		return 44 * 1024
	case ChipBT43X:
		return 24 * 1024
	default:
		return 32 * 1024
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
