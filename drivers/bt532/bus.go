package bt532

import "time"

// Register access over I²C. Addresses and values are little-endian.
// A read is a register-select write followed by a separate read
// transaction; the select is retried because the controller NAKs while
// it is busy scanning.

const (
	selectRetryDelay = time.Millisecond
	selectSettle     = 50 * time.Microsecond
	rawSettle        = 200 * time.Microsecond
	maxWriteChunk    = 64
)

func (d *Device) selectReg(reg uint16) error {
	d.sel[0] = byte(reg)
	d.sel[1] = byte(reg >> 8)
	var err error
	for i := 0; i < readRetries; i++ {
		if err = d.i2c.Tx(d.addr, d.sel[:], nil); err == nil {
			return nil
		}
		d.delay(selectRetryDelay)
	}
	return &TransportError{Op: "select", Reg: reg, Err: err}
}

func (d *Device) read(reg uint16, p []byte, settle time.Duration) error {
	if err := d.selectReg(reg); err != nil {
		return err
	}
	d.delay(settle)
	if err := d.i2c.Tx(d.addr, nil, p); err != nil {
		return &TransportError{Op: "read", Reg: reg, Err: err}
	}
	return nil
}

// ReadData reads len(p) bytes starting at reg.
func (d *Device) ReadData(reg uint16, p []byte) error { return d.read(reg, p, selectSettle) }

// readRaw is ReadData with the longer settle time NV and flash reads need.
func (d *Device) readRaw(reg uint16, p []byte) error { return d.read(reg, p, rawSettle) }

// ReadWord reads one 16-bit register.
func (d *Device) ReadWord(reg uint16) (uint16, error) {
	if err := d.ReadData(reg, d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0]) | uint16(d.r[1])<<8, nil
}

// WriteWord writes one 16-bit register.
func (d *Device) WriteWord(reg, val uint16) error {
	d.w[0] = byte(reg)
	d.w[1] = byte(reg >> 8)
	d.w[2] = byte(val)
	d.w[3] = byte(val >> 8)
	if err := d.i2c.Tx(d.addr, d.w[:4], nil); err != nil {
		return &TransportError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

// Command addresses a command register with no payload.
func (d *Device) Command(reg uint16) error {
	d.w[0] = byte(reg)
	d.w[1] = byte(reg >> 8)
	if err := d.i2c.Tx(d.addr, d.w[:2], nil); err != nil {
		return &TransportError{Op: "cmd", Reg: reg, Err: err}
	}
	return nil
}

// WriteData writes a raw payload after the register address.
func (d *Device) WriteData(reg uint16, p []byte) error {
	var pkt []byte
	if len(p) <= maxWriteChunk {
		pkt = d.w[:2+len(p)]
	} else {
		pkt = make([]byte, 2+len(p))
	}
	pkt[0] = byte(reg)
	pkt[1] = byte(reg >> 8)
	copy(pkt[2:], p)
	if err := d.i2c.Tx(d.addr, pkt, nil); err != nil {
		return &TransportError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}

// ClearInt acknowledges the pending interrupt.
func (d *Device) ClearInt() error { return d.Command(CmdClearInt) }

var clearIntCmd = [2]byte{byte(CmdClearInt), byte(CmdClearInt >> 8)}

// AckInt is ClearInt for a caller that does not own the device. It shares
// no buffers with the other methods, so it may race a running operation;
// the bus serialises the two transactions.
func (d *Device) AckInt() error {
	cmd := clearIntCmd
	if err := d.i2c.Tx(d.addr, cmd[:], nil); err != nil {
		return &TransportError{Op: "cmd", Reg: CmdClearInt, Err: err}
	}
	return nil
}

// drainInt issues n clear commands, ignoring failures, to flush stale status.
func (d *Device) drainInt(n int, gap time.Duration) {
	for i := 0; i < n; i++ {
		_ = d.Command(CmdClearInt)
		d.delay(gap)
	}
}
