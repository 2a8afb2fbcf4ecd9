package bt532_test

import (
	"errors"
	"testing"

	"bt532-go/drivers/bt532"
	"bt532-go/drivers/bt532/bt532test"
)

const (
	exist = 1 << bt532.SubExist
	down  = 1 << bt532.SubDown
	move  = 1 << bt532.SubMove
	up    = 1 << bt532.SubUp
)

func caps(fingers, buttons int) bt532.Capabilities {
	return bt532.Capabilities{MaxX: 720, MaxY: 1280, Fingers: fingers, Buttons: buttons}
}

func frame(status uint16, coords ...bt532.Coord) *bt532.Frame {
	f := &bt532.Frame{Status: status, Slots: len(coords)}
	copy(f.Coords[:], coords)
	return f
}

const pointExist = 1 << bt532.StatusPointExist

func count(evs []bt532.Event, k bt532.EventKind) int {
	n := 0
	for _, e := range evs {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func TestDecodeContactLifecycle(t *testing.T) {
	dec := bt532.NewDecoder(caps(2, 0), 0)
	var r bt532.Reported

	evs, err := dec.Decode(frame(pointExist, bt532.Coord{X: 10, Y: 20, Width: 5, SubStatus: exist | down}), &r, nil)
	if err != nil || len(evs) != 1 {
		t.Fatalf("down: %v %v", evs, err)
	}
	if e := evs[0]; e.Kind != bt532.ContactUpdate || !e.New || e.X != 10 || e.Y != 20 || e.Width != 5 {
		t.Fatalf("down event = %+v", e)
	}

	evs, _ = dec.Decode(frame(pointExist, bt532.Coord{X: 11, Y: 21, Width: 5, SubStatus: exist | move}), &r, nil)
	if len(evs) != 1 || evs[0].New || evs[0].Moves != 1 {
		t.Fatalf("move events = %+v", evs)
	}

	// Up bit plus the slot vanishing in the same frame: one release only.
	evs, _ = dec.Decode(frame(pointExist, bt532.Coord{SubStatus: up}), &r, nil)
	if count(evs, bt532.ContactReleased) != 1 || len(evs) != 1 {
		t.Fatalf("release events = %+v", evs)
	}
	if r.Active() != 0 || r.Touches[0] != 1 {
		t.Fatalf("reported = %+v", r)
	}
}

func TestDecodeSynthesizesReleaseOnce(t *testing.T) {
	dec := bt532.NewDecoder(caps(2, 0), 0)
	var r bt532.Reported
	dec.Decode(frame(pointExist, bt532.Coord{X: 1, Y: 1, SubStatus: exist}), &r, nil)

	// Slot disappears without an up bit.
	evs, _ := dec.Decode(frame(pointExist, bt532.Coord{}), &r, nil)
	if count(evs, bt532.ContactReleased) != 1 {
		t.Fatalf("events = %+v", evs)
	}
	evs, _ = dec.Decode(frame(pointExist, bt532.Coord{}), &r, nil)
	if len(evs) != 0 {
		t.Fatalf("second empty frame must be silent: %+v", evs)
	}
}

func TestDecodeNoPointExistReleasesAll(t *testing.T) {
	dec := bt532.NewDecoder(caps(3, 0), 0)
	var r bt532.Reported
	dec.Decode(frame(pointExist,
		bt532.Coord{X: 1, Y: 1, SubStatus: exist},
		bt532.Coord{},
		bt532.Coord{X: 3, Y: 3, SubStatus: exist},
	), &r, nil)

	evs, err := dec.Decode(frame(1<<bt532.StatusUp, bt532.Coord{}, bt532.Coord{}, bt532.Coord{}), &r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count(evs, bt532.ContactReleased) != 2 || r.Active() != 0 {
		t.Fatalf("events = %+v", evs)
	}
}

func TestDecodeDropsOutOfRangeSlot(t *testing.T) {
	dec := bt532.NewDecoder(caps(2, 0), 0)
	var r bt532.Reported
	evs, err := dec.Decode(frame(pointExist,
		bt532.Coord{X: 9999, Y: 5, SubStatus: exist},
		bt532.Coord{X: 100, Y: 200, SubStatus: exist},
	), &r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Slot != 1 {
		t.Fatalf("events = %+v", evs)
	}
	if r.Dropped != 1 {
		t.Fatalf("Dropped = %d", r.Dropped)
	}
}

func TestDecodeInvalidFrameLeavesState(t *testing.T) {
	dec := bt532.NewDecoder(caps(1, 0), 0)
	var r bt532.Reported
	dec.Decode(frame(pointExist, bt532.Coord{X: 1, Y: 1, SubStatus: exist}), &r, nil)
	before := r

	_, err := dec.Decode(frame(pointExist|1<<bt532.StatusMustZero, bt532.Coord{}), &r, nil)
	if !errors.Is(err, bt532.ErrInvalidFrame) {
		t.Fatalf("want ErrInvalidFrame, got %v", err)
	}
	if r != before {
		t.Fatal("invalid frame must not touch reported state")
	}

	evs, err := dec.Decode(&bt532.Frame{}, &r, nil)
	if err != nil || len(evs) != 0 || r != before {
		t.Fatal("heartbeat must be a no-op")
	}
}

func TestDecodeButtons(t *testing.T) {
	dec := bt532.NewDecoder(caps(1, 2), 0)
	var r bt532.Reported
	f := frame(1<<bt532.StatusButton, bt532.Coord{})
	f.Buttons = 1 << 1 // button 1 down
	evs, _ := dec.Decode(f, &r, nil)
	if len(evs) != 1 || evs[0].Kind != bt532.ButtonDown || evs[0].Slot != 1 {
		t.Fatalf("events = %+v", evs)
	}
	// Repeated down is not re-reported.
	evs, _ = dec.Decode(f, &r, nil)
	if count(evs, bt532.ButtonDown) != 0 {
		t.Fatalf("events = %+v", evs)
	}
	f.Buttons = 1 << 9 // button 1 up
	evs, _ = dec.Decode(f, &r, nil)
	if len(evs) != 1 || evs[0].Kind != bt532.ButtonUp {
		t.Fatalf("events = %+v", evs)
	}
	// Button beyond the configured count is ignored.
	f.Buttons = 1 << 5
	evs, _ = dec.Decode(f, &r, nil)
	if len(evs) != 0 {
		t.Fatalf("events = %+v", evs)
	}
}

func TestDecodePalmWidth(t *testing.T) {
	dec := bt532.NewDecoder(caps(1, 0), 0)
	var r bt532.Reported
	evs, _ := dec.Decode(frame(pointExist|1<<bt532.StatusPalm, bt532.Coord{X: 1, Y: 1, Width: 3, SubStatus: exist}), &r, nil)
	if evs[0].Palm != bt532.PalmReport || evs[0].Width != 200 {
		t.Fatalf("palm = %+v", evs[0])
	}
	evs, _ = dec.Decode(frame(pointExist|1<<bt532.StatusPalmReject, bt532.Coord{X: 1, Y: 1, Width: 3, SubStatus: exist}), &r, nil)
	if evs[0].Palm != bt532.PalmReject || evs[0].Width != 255 {
		t.Fatalf("reject = %+v", evs[0])
	}
	evs, _ = dec.Decode(frame(pointExist, bt532.Coord{X: 1, Y: 1, Width: 0, SubStatus: exist}), &r, nil)
	if evs[0].Width != 1 {
		t.Fatalf("width floor = %d", evs[0].Width)
	}
}

func TestDecodeFlip(t *testing.T) {
	cases := []struct {
		name   string
		flip   uint8
		in     bt532.Coord
		wx, wy uint16
	}{
		{"none", 0, bt532.Coord{X: 10, Y: 20}, 10, 20},
		{"h", bt532.FlipH, bt532.Coord{X: 10, Y: 20}, 710, 20},
		{"v", bt532.FlipV, bt532.Coord{X: 10, Y: 20}, 10, 1260},
		{"swap", bt532.SwapXY, bt532.Coord{X: 20, Y: 10}, 10, 20},
		{"swap+h", bt532.SwapXY | bt532.FlipH, bt532.Coord{X: 20, Y: 10}, 710, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := bt532.NewDecoder(caps(1, 0), tc.flip)
			var r bt532.Reported
			tc.in.SubStatus = exist
			evs, _ := dec.Decode(frame(pointExist, tc.in), &r, nil)
			if len(evs) != 1 || evs[0].X != tc.wx || evs[0].Y != tc.wy {
				t.Fatalf("events = %+v, want (%d,%d)", evs, tc.wx, tc.wy)
			}
		})
	}
}

func TestReportedRelease(t *testing.T) {
	dec := bt532.NewDecoder(caps(2, 2), 0)
	var r bt532.Reported
	f := frame(pointExist|1<<bt532.StatusButton, bt532.Coord{X: 1, Y: 1, SubStatus: exist}, bt532.Coord{})
	f.Buttons = 1
	dec.Decode(f, &r, nil)

	evs := r.Release(nil)
	if count(evs, bt532.ContactReleased) != 1 || count(evs, bt532.ButtonUp) != 1 {
		t.Fatalf("events = %+v", evs)
	}
	if len(r.Release(nil)) != 0 {
		t.Fatal("second release must be empty")
	}
}

func TestParseFrame(t *testing.T) {
	b := []byte{
		0x01, 0x08, 0x02, 0x00, // status: count change, point exist; 2 fingers
		0x10, 0x00, 0x20, 0x00, 0x07, 0x03, // slot 0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // slot 1
	}
	var f bt532.Frame
	if err := bt532.ParseFrame(b, 2, &f); err != nil {
		t.Fatal(err)
	}
	if !f.Has(bt532.StatusPointExist) || f.FingerCount() != 2 {
		t.Fatalf("frame = %+v", f)
	}
	c := f.Coords[0]
	if c.X != 0x10 || c.Y != 0x20 || c.Width != 7 || !c.Has(bt532.SubExist) || !c.Has(bt532.SubDown) {
		t.Fatalf("coord = %+v", c)
	}
	if err := bt532.ParseFrame(b[:10], 2, &f); !errors.Is(err, bt532.ErrInvalidFrame) {
		t.Fatalf("short frame: %v", err)
	}
}

func TestReadFrameRetriesTornRead(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, func(c *bt532.Config) { c.Fingers = 1; c.Buttons = 1 })
	if _, err := d.ReadIdentity(); err != nil {
		t.Fatal(err)
	}
	chip.PushFrame([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	chip.PushFrame([]byte{0x00, 0x88, 0, 0, 5, 0, 6, 0, 1, 0x01})
	chip.SetReg(bt532.RegIconStatus, 0x0001)

	var f bt532.Frame
	if err := d.ReadFrame(&f); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Coords[0].X != 5 || f.Coords[0].Y != 6 || f.Buttons != 1 {
		t.Fatalf("frame = %+v", f)
	}
}

func TestReadFrameRereadsCountOnlyStatus(t *testing.T) {
	chip := bt532test.New()
	d, _, _ := newDevice(t, chip, func(c *bt532.Config) { c.Fingers = 1 })
	if _, err := d.ReadIdentity(); err != nil {
		t.Fatal(err)
	}
	// Status 0x0001 is a torn read, not a heartbeat; the reread wins.
	chip.PushFrame([]byte{0x01, 0x00, 0, 0, 9, 0, 9, 0, 1, 0x01})
	chip.PushFrame([]byte{0x00, 0x88, 0, 0, 5, 0, 6, 0, 1, 0x01})

	var f bt532.Frame
	if err := d.ReadFrame(&f); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Heartbeat() || f.Coords[0].X != 5 {
		t.Fatalf("frame = %+v", f)
	}

	// A zero status is the periodic heartbeat and is returned as is.
	chip.PushFrame([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if err := d.ReadFrame(&f); err != nil || !f.Heartbeat() {
		t.Fatalf("heartbeat frame = %+v, %v", f, err)
	}
}
