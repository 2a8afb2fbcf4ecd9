// Package bt532test provides an in-memory BT532 controller that answers
// the driver's I²C traffic, for tests of the driver and its service.
package bt532test

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"
)

var ErrNAK = errors.New("nak")

// Register addresses the emulation cares about. Kept local so the package
// does not import the driver it is used to test.
const (
	regEEPROMInfo  = 0x0018
	regChipRev     = 0x0011
	regFirmware    = 0x0012
	regDataVersion = 0x0013
	regHardwareID  = 0x0014
	regMinor       = 0x0121
	regChecksum    = 0x012C
	regPointStatus = 0x0080
	regFlashInit   = 0x01D0
	regFlashWrite  = 0x01D1
	regFlashRead   = 0x01D2
	cmdFlashFlush  = 0x01DD
	regChipCode    = 0xCC00
	cmdCalibrate   = 0x0006
	cmdClearInt    = 0x0003
	cmdSoftReset   = 0x0000
	cmdNVLock      = 0xF0F6
	cmdNVSave      = 0xF0F8
	cmdNVUnlock    = 0xF0FA
	nvBase         = 0xF0A0
	nvSize         = 0x40
	vcmdIntClear   = 0xC004
)

// Region is a byte range of flash the chip keeps for itself.
type Region struct{ Start, Len int }

// Chip emulates one controller. All fields may be set before use; after
// that use the methods, which lock.
type Chip struct {
	mu sync.Mutex

	Regs map[uint16]uint16
	NV   [nvSize]byte

	Flash     []byte
	Protected Region // writes inside are ignored

	// CorruptAt flips the readback byte at this offset (once per read
	// pass) when >= 0.
	CorruptAt int

	// CalBusyReads keeps the EEPROM busy bit set for this many reads
	// after each calibrate command.
	CalBusyReads int

	// FailUnlock makes the NV unlock command NAK.
	FailUnlock bool

	// Frames are returned in order by point-status reads, then zeros.
	Frames [][]byte

	sel       uint16
	failNext  int
	failRegs  map[uint16]int
	calBusy   int
	flashPos  int
	readPos   int
	nvLocked  bool
	nvPending bool

	cmds   []uint16
	writes []Write
	txs    int
	ops    []string
}

// Write is a logged word or data write.
type Write struct {
	Reg  uint16
	Data []byte
}

var _ drivers.I2C = (*Chip)(nil)

// New returns a chip that boots clean: checksum good, ledger erased to
// count 1, versions 1.0.0, chip code ZT7548.
func New() *Chip {
	c := &Chip{
		Regs:      map[uint16]uint16{},
		CorruptAt: -1,
		failRegs:  map[uint16]int{},
	}
	c.Regs[regChecksum] = 0x55AA
	c.Regs[regChipCode] = 0xE548
	c.Regs[regFirmware] = 1
	c.NV[0x02] = 1
	return c
}

// FailNext makes the next n transactions NAK.
func (c *Chip) FailNext(n int) {
	c.mu.Lock()
	c.failNext = n
	c.mu.Unlock()
}

// FailReg makes the next n transactions addressing reg NAK.
func (c *Chip) FailReg(reg uint16, n int) {
	c.mu.Lock()
	c.failRegs[reg] = n
	c.mu.Unlock()
}

// SetReg sets a register value.
func (c *Chip) SetReg(reg, v uint16) {
	c.mu.Lock()
	c.Regs[reg] = v
	c.mu.Unlock()
}

// Reg reads back a register value.
func (c *Chip) Reg(reg uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Regs[reg]
}

// SetVersions sets what the firmware reports as running.
func (c *Chip) SetVersions(major, minor, reg uint16) {
	c.mu.Lock()
	c.Regs[regFirmware] = major
	c.Regs[regMinor] = minor
	c.Regs[regDataVersion] = reg
	c.mu.Unlock()
}

// PushFrame queues a point-status response.
func (c *Chip) PushFrame(b []byte) {
	c.mu.Lock()
	c.Frames = append(c.Frames, append([]byte(nil), b...))
	c.mu.Unlock()
}

// NVByte reads one byte of the NV area.
func (c *Chip) NVByte(off int) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.NV[off]
}

// SetNV writes bytes into the NV area directly.
func (c *Chip) SetNV(off int, b ...byte) {
	c.mu.Lock()
	copy(c.NV[off:], b)
	c.mu.Unlock()
}

// Commands returns every payload-less write seen so far.
func (c *Chip) Commands() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.cmds...)
}

// CountCmd counts occurrences of one command.
func (c *Chip) CountCmd(reg uint16) int {
	n := 0
	for _, r := range c.Commands() {
		if r == reg {
			n++
		}
	}
	return n
}

// Writes returns the logged writes to reg.
func (c *Chip) Writes(reg uint16) []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Write
	for _, w := range c.writes {
		if w.Reg == reg {
			out = append(out, w)
		}
	}
	return out
}

// Ops returns the NV operation trace ("lock", "write", "save", "unlock").
func (c *Chip) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

// Tx implements drivers.I2C.
func (c *Chip) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs++
	if c.failNext > 0 {
		c.failNext--
		return ErrNAK
	}
	if len(w) >= 2 {
		reg := uint16(w[0]) | uint16(w[1])<<8
		if n := c.failRegs[reg]; n > 0 {
			c.failRegs[reg] = n - 1
			return ErrNAK
		}
		switch {
		case len(w) == 2 && r == nil:
			return c.address(reg)
		case len(w) == 2:
			c.sel = reg
		default:
			c.write(reg, w[2:])
		}
	}
	if r != nil {
		c.read(r)
	}
	return nil
}

func isCommand(reg uint16) bool {
	switch {
	case reg <= 0x000F:
		return true
	case reg == regFlashInit, reg == cmdFlashFlush, reg == vcmdIntClear:
		return true
	case reg == cmdNVLock, reg == cmdNVSave, reg == cmdNVUnlock:
		return true
	}
	return false
}

func (c *Chip) address(reg uint16) error {
	c.sel = reg
	if !isCommand(reg) {
		return nil
	}
	if reg == cmdNVUnlock && c.FailUnlock {
		return ErrNAK
	}
	c.cmds = append(c.cmds, reg)
	switch reg {
	case cmdCalibrate:
		c.calBusy = c.CalBusyReads
	case regFlashInit:
		c.readPos = 0
	case cmdFlashFlush:
		c.bootFlash()
	case cmdNVLock:
		c.nvLocked = true
		c.ops = append(c.ops, "lock")
	case cmdNVUnlock:
		c.nvLocked = false
		c.ops = append(c.ops, "unlock")
	case cmdNVSave:
		c.nvPending = false
		c.ops = append(c.ops, "save")
	}
	return nil
}

// bootFlash makes the header versions of the written image current and
// reports a clean checksum.
func (c *Chip) bootFlash() {
	if len(c.Flash) < 0x40 {
		return
	}
	le := func(o int) uint16 { return uint16(c.Flash[o]) | uint16(c.Flash[o+1])<<8 }
	c.Regs[regFirmware] = le(0x34)
	c.Regs[regMinor] = le(0x38)
	c.Regs[regDataVersion] = le(0x3C)
	c.Regs[regHardwareID] = le(0x30)
	c.Regs[regChecksum] = 0x55AA
}

func (c *Chip) write(reg uint16, p []byte) {
	c.writes = append(c.writes, Write{Reg: reg, Data: append([]byte(nil), p...)})
	switch {
	case reg == regFlashWrite:
		for _, b := range p {
			if c.flashPos >= len(c.Flash) {
				c.Flash = append(c.Flash, 0xFF)
			}
			pr := c.Protected
			if c.flashPos < pr.Start || c.flashPos >= pr.Start+pr.Len {
				c.Flash[c.flashPos] = b
			}
			c.flashPos++
		}
		return
	case reg >= nvBase && reg < nvBase+nvSize:
		if c.nvLocked {
			copy(c.NV[reg-nvBase:], p)
			c.nvPending = true
			c.ops = append(c.ops, "write")
		}
		return
	}
	if len(p) >= 2 {
		v := uint16(p[0]) | uint16(p[1])<<8
		c.Regs[reg] = v
		if reg == regFlashInit && v == 2 {
			c.flashPos = 0
		}
	}
}

func (c *Chip) read(r []byte) {
	switch {
	case c.sel == regPointStatus:
		for i := range r {
			r[i] = 0
		}
		if len(c.Frames) > 0 {
			copy(r, c.Frames[0])
			c.Frames = c.Frames[1:]
		}
	case c.sel == regFlashRead:
		for i := range r {
			pos := c.readPos + i
			var b byte = 0xFF
			if pos < len(c.Flash) {
				b = c.Flash[pos]
			}
			if pos == c.CorruptAt {
				b ^= 0x01
			}
			r[i] = b
		}
		c.readPos += len(r)
	case c.sel >= nvBase && c.sel < nvBase+nvSize:
		copy(r, c.NV[c.sel-nvBase:])
	case c.sel == regEEPROMInfo && c.calBusy > 0:
		c.calBusy--
		r[0], r[1] = 0x01, 0x00
	default:
		for i := 0; i+1 < len(r); i += 2 {
			v := c.Regs[c.sel+uint16(i/2)]
			r[i] = byte(v)
			r[i+1] = byte(v >> 8)
		}
	}
}

// Line is a fake interrupt output. High means idle.
type Line struct {
	mu   sync.Mutex
	high bool
}

func NewLine(high bool) *Line { return &Line{high: high} }

func (l *Line) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *Line) Set(high bool) {
	l.mu.Lock()
	l.high = high
	l.mu.Unlock()
}

// Supply records power transitions.
type Supply struct {
	mu     sync.Mutex
	on     bool
	Cycles int
	Fail   bool
}

func (s *Supply) SetPower(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrNAK
	}
	if on && !s.on {
		s.Cycles++
	}
	s.on = on
	return nil
}

func (s *Supply) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Ons counts off-to-on transitions.
func (s *Supply) Ons() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cycles
}

// Transactions counts Tx calls, failed ones included.
func (c *Chip) Transactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs
}

// Unsaved reports NV writes not yet followed by a save command.
func (c *Chip) Unsaved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nvPending
}
