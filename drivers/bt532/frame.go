package bt532

import "fmt"

// Coord is one slot of the point-status record.
type Coord struct {
	X, Y      uint16
	Width     uint8
	SubStatus uint8
}

func (c Coord) Has(bit uint) bool { return c.SubStatus&(1<<bit) != 0 }

// Frame is one point-status read.
type Frame struct {
	Status uint16
	// Event flag word, or finger count (low byte) and timestamp (high
	// byte) depending on firmware mode.
	EventFlag uint16
	Coords    [MaxFingers]Coord
	Buttons   uint16 // icon status; valid when StatusButton is set
	Slots     int
}

func (f *Frame) Has(bit uint) bool  { return f.Status&(1<<bit) != 0 }
func (f *Frame) FingerCount() uint8 { return uint8(f.EventFlag) }
func (f *Frame) TimeStamp() uint8   { return uint8(f.EventFlag >> 8) }

// Heartbeat reports a periodic interrupt with nothing to decode.
func (f *Frame) Heartbeat() bool { return f.Status == 0 }

// suspect reports a frame that is worth re-reading before decoding.
func (f *Frame) suspect() bool {
	if f.Has(StatusMustZero) || f.Status == statusTornCountOnly {
		return true
	}
	if f.Status == invalidWord || f.EventFlag == invalidWord {
		return true
	}
	for i := 0; i < f.Slots; i++ {
		c := f.Coords[i]
		if c.X == invalidWord || c.Y == invalidWord {
			return true
		}
	}
	return false
}

// FrameSize is the point-status length for n slots.
func FrameSize(n int) int { return frameHeaderSize + n*coordRecordSize }

// ParseFrame decodes a raw point-status record holding n slots.
func ParseFrame(b []byte, n int, f *Frame) error {
	if n < 0 || n > MaxFingers {
		return fmt.Errorf("%w: %d slots", ErrInvalidFrame, n)
	}
	if len(b) < FrameSize(n) {
		return fmt.Errorf("%w: short frame %d bytes", ErrInvalidFrame, len(b))
	}
	*f = Frame{Status: le16(b[0:]), EventFlag: le16(b[2:]), Slots: n}
	for i := 0; i < n; i++ {
		o := frameHeaderSize + i*coordRecordSize
		f.Coords[i] = Coord{
			X:         le16(b[o:]),
			Y:         le16(b[o+2:]),
			Width:     b[o+4],
			SubStatus: b[o+5],
		}
	}
	return nil
}

// ReadFrame reads the point-status record, re-reading a bounded number of
// times while it looks torn, and the button status when flagged.
func (d *Device) ReadFrame(f *Frame) error {
	n := d.caps.Fingers
	buf := d.fbuf[:FrameSize(n)]
	err := retry(coordRetries, "read_frame", func(int) error {
		if err := d.ReadData(RegPointStatus, buf); err != nil {
			return err
		}
		if err := ParseFrame(buf, n, f); err != nil {
			return permanent(err)
		}
		if f.suspect() {
			return ErrInvalidFrame
		}
		return nil
	})
	if err != nil {
		return err
	}
	if f.Has(StatusButton) && d.caps.Buttons > 0 {
		if f.Buttons, err = d.ReadWord(RegIconStatus); err != nil {
			return err
		}
	}
	return nil
}
