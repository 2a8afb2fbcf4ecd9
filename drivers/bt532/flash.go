package bt532

import (
	"errors"
	"fmt"
	"time"
)

// Region is a byte range of the flash image.
type Region struct {
	Start, Len int
}

func (r Region) contains(off int) bool { return off >= r.Start && off < r.Start+r.Len }

func (r Region) overlaps(a, b int) bool { return a < r.Start+r.Len && r.Start < b }

// UpdaterConfig carries the flashing parameters.
type UpdaterConfig struct {
	Retries      int
	WriteSector  int
	ReadSector   int
	PageSize     int // used when the image does not encode one
	SettleDelay  time.Duration
	LedgerDelay  time.Duration
	LedgerRegion *Region // nil: the final page of the written range
	CheckHWID    bool
	ReadyPoll    time.Duration
	ReadyPolls   int
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*UpdaterConfig)

func defaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		Retries:     InitRetryCount,
		WriteSector: 64,
		ReadSector:  8,
		PageSize:    128,
		SettleDelay: 100 * time.Microsecond,
		LedgerDelay: 30 * time.Millisecond,
		ReadyPoll:   30 * time.Millisecond,
		ReadyPolls:  100,
	}
}

// WithRetries bounds whole-update attempts.
func WithRetries(n int) UpdaterOption {
	return func(c *UpdaterConfig) {
		if n > 0 {
			c.Retries = n
		}
	}
}

// WithWriteSector sets the bytes per flash write transaction.
func WithWriteSector(n int) UpdaterOption {
	return func(c *UpdaterConfig) {
		if n > 0 && n <= maxWriteChunk {
			c.WriteSector = n
		}
	}
}

// WithReadSector sets the bytes per readback transaction.
func WithReadSector(n int) UpdaterOption {
	return func(c *UpdaterConfig) {
		if n > 0 && n <= nvMaxLen {
			c.ReadSector = n
		}
	}
}

// WithPageSize sets the fallback page size.
func WithPageSize(n int) UpdaterOption {
	return func(c *UpdaterConfig) {
		if n > 0 {
			c.PageSize = n
		}
	}
}

// WithSettleDelay sets the per-chunk and ledger-region delays.
func WithSettleDelay(chunk, ledger time.Duration) UpdaterOption {
	return func(c *UpdaterConfig) {
		c.SettleDelay = chunk
		c.LedgerDelay = ledger
	}
}

// WithLedgerRegion sets the device-owned bytes inside the image.
func WithLedgerRegion(start, n int) UpdaterOption {
	return func(c *UpdaterConfig) { c.LedgerRegion = &Region{Start: start, Len: n} }
}

// WithHardwareIDCheck makes a hardware-id mismatch force an update.
func WithHardwareIDCheck(on bool) UpdaterOption {
	return func(c *UpdaterConfig) { c.CheckHWID = on }
}

// Updater writes firmware images to the controller flash.
type Updater struct {
	dev *Device
	cfg UpdaterConfig
}

func NewUpdater(dev *Device, opts ...UpdaterOption) *Updater {
	cfg := defaultUpdaterConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Updater{dev: dev, cfg: cfg}
}

// UpdateResult summarises an Update call.
type UpdateResult struct {
	Needed  bool
	Flashed bool
	Before  Versions
	After   Versions
}

// Update applies dir. Normal flashes only when NeedsUpdate says so or the
// running firmware fails its checksum; Force always flashes.
func (u *Updater) Update(img *Image, dir Directive) (UpdateResult, error) {
	var res UpdateResult
	if dir == FirmwareSkip {
		return res, nil
	}
	if img == nil {
		if dir == FirmwareForce {
			return res, ErrNoImage
		}
		return res, nil
	}
	cur, hw, err := u.dev.ReadVersions()
	if err != nil {
		return res, err
	}
	res.Before = cur
	res.Needed = NeedsUpdate(Identity{img.Versions(), img.HardwareID()}, Identity{cur, hw}, u.cfg.CheckHWID)
	if !res.Needed {
		ok, err := u.dev.ChecksumOK()
		if err != nil || !ok {
			res.Needed = true
		}
	}
	if !res.Needed && dir != FirmwareForce {
		res.After = cur
		return res, nil
	}
	if err := u.Flash(img); err != nil {
		return res, err
	}
	res.Flashed = true
	if res.After, _, err = u.dev.ReadVersions(); err != nil {
		return res, err
	}
	return res, nil
}

// Flash power-cycles the chip into programming mode, writes img, reads it
// back and checks the firmware checksum. Any failure restarts from the
// power cycle, up to the configured number of attempts.
func (u *Updater) Flash(img *Image) error {
	if img == nil {
		return ErrNoImage
	}
	buf := make([]byte, 0, img.Len())
	return retry(u.cfg.Retries, "flash", func(int) error {
		err := u.flashOnce(img, &buf)
		if err != nil {
			_ = u.dev.PowerOff()
		}
		return err
	})
}

type flashPlan struct {
	size   int
	page   int
	ledger Region
}

func (u *Updater) plan(img *Image, chip uint16) (flashPlan, error) {
	p := flashPlan{size: flashSize(chip), page: u.cfg.PageSize}
	if p.size > img.Len() {
		p.size = img.Len()
	}
	switch chip {
	case ChipZT7538, ChipZT7548, ChipZT7532:
		if n := img.PayloadSize(); n != 0 {
			if n > img.Len() {
				return p, permanent(fmt.Errorf("%w: payload %d exceeds image %d", ErrBadImage, n, img.Len()))
			}
			p.size = n
			if ps := img.PageSize(); ps != 0 {
				p.page = ps
			}
		}
	}
	if u.cfg.LedgerRegion != nil {
		p.ledger = *u.cfg.LedgerRegion
	} else if p.size >= p.page {
		p.ledger = Region{Start: p.size - p.page, Len: p.page}
	}
	return p, nil
}

func (u *Updater) flashOnce(img *Image, buf *[]byte) error {
	d := u.dev
	if err := d.PowerOff(); err != nil {
		return err
	}
	if err := d.powerOnRaw(); err != nil {
		return err
	}
	d.delay(10 * time.Millisecond)
	if err := d.WriteWord(VRegCmdEnable, 1); err != nil {
		return err
	}
	d.delay(10 * time.Microsecond)
	chip, err := d.ReadWord(VRegChipCode)
	if err != nil {
		return err
	}
	d.chipCode = chip
	p, err := u.plan(img, chip)
	if err != nil {
		return err
	}
	switch chip {
	case ChipZT7538, ChipZT7548, ChipZT7532:
		if err := d.WriteWord(VRegClockSpeed, clockSpeedBurst); err != nil {
			return err
		}
		d.delay(200 * time.Microsecond)
	}

	if err := d.Command(VCmdIntClear); err != nil {
		return err
	}
	if err := d.WriteWord(VRegNVMInit, 1); err != nil {
		return err
	}
	d.delay(5 * time.Millisecond)
	if err := d.WriteWord(VRegNVMVpp, 1); err != nil {
		return err
	}
	if err := d.WriteWord(VRegWriteEnable, 1); err != nil {
		return err
	}
	if err := d.WriteWord(RegFlashInit, flashBurstMode); err != nil {
		return err
	}

	if err := u.writePages(img.Bytes(), p); err != nil {
		return err
	}

	if err := d.Command(CmdFlashFlush); err != nil {
		return err
	}
	d.delay(100 * time.Millisecond)
	if err := u.waitReady(10 * u.cfg.ReadyPolls); err != nil {
		return err
	}
	if err := d.WriteWord(VRegNVMVpp, 0); err != nil {
		return err
	}
	if err := d.WriteWord(VRegWriteEnable, 0); err != nil {
		return err
	}
	if err := d.Command(RegFlashInit); err != nil {
		return err
	}

	got, err := u.readBack(p.size, buf)
	if err != nil {
		return err
	}
	if err := verify(img.Bytes()[:p.size], got, p.ledger); err != nil {
		return err
	}

	if err := d.PowerCycle(); err != nil {
		return err
	}
	ok, err := d.ChecksumOK()
	if err != nil {
		return err
	}
	if !ok {
		return ErrChecksumMismatch
	}
	return nil
}

func (u *Updater) writePages(data []byte, p flashPlan) error {
	d := u.dev
	for addr := 0; addr < p.size; {
		end := addr + p.page
		if end > p.size {
			end = p.size
		}
		for addr < end {
			n := u.cfg.WriteSector
			if addr+n > end {
				n = end - addr
			}
			if err := d.WriteData(RegFlashWrite, data[addr:addr+n]); err != nil {
				return err
			}
			if p.ledger.overlaps(addr, addr+n) {
				d.delay(u.cfg.LedgerDelay)
			} else {
				d.delay(u.cfg.SettleDelay)
			}
			addr += n
		}
		if addr < p.size {
			if err := u.waitReady(u.cfg.ReadyPolls); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitReady polls the interrupt line until the chip releases it.
func (u *Updater) waitReady(polls int) error {
	d := u.dev
	if d.intr == nil {
		return nil
	}
	for i := 0; i <= polls; i++ {
		if d.intr.Get() {
			return nil
		}
		d.delay(u.cfg.ReadyPoll)
	}
	return ErrWriteTimeout
}

func (u *Updater) readBack(size int, buf *[]byte) ([]byte, error) {
	d := u.dev
	if err := d.WriteWord(RegFlashReadMode, flashReadSectors); err != nil {
		return nil, err
	}
	d.delay(time.Millisecond)
	out := (*buf)[:0]
	if cap(out) < size {
		out = make([]byte, 0, size)
	}
	out = out[:size]
	for addr := 0; addr < size; addr += u.cfg.ReadSector {
		n := u.cfg.ReadSector
		if addr+n > size {
			n = size - addr
		}
		if err := d.readRaw(RegFlashRead, out[addr:addr+n]); err != nil {
			return nil, err
		}
	}
	*buf = out
	return out, nil
}

// verify compares want and got outside the ledger region.
func verify(want, got []byte, ledger Region) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: read %d of %d bytes", ErrVerifyMismatch, len(got), len(want))
	}
	for i := range want {
		if ledger.contains(i) {
			continue
		}
		if want[i] != got[i] {
			return &VerifyError{Offset: i, Want: want[i], Got: got[i]}
		}
	}
	return nil
}

// IsPermanent reports errors no retry can fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBadImage) || errors.Is(err, ErrNoImage)
}
