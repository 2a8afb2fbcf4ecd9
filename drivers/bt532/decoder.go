package bt532

import "bt532-go/x/mathx"

// EventKind distinguishes decoder outputs.
type EventKind uint8

const (
	ContactUpdate EventKind = iota
	ContactReleased
	ButtonDown
	ButtonUp
)

func (k EventKind) String() string {
	switch k {
	case ContactUpdate:
		return "update"
	case ContactReleased:
		return "release"
	case ButtonDown:
		return "button_down"
	case ButtonUp:
		return "button_up"
	default:
		return "unknown"
	}
}

// Palm qualifies a contact update.
type Palm uint8

const (
	PalmNone Palm = iota
	PalmReport
	PalmReject
)

// Event is one slot or button transition. Slot is the button index for
// button events.
type Event struct {
	Kind  EventKind
	Slot  int
	X, Y  uint16
	Width uint8
	Palm  Palm
	New   bool // first update since the slot was empty
	Moves uint32
}

// Reported is the previously reported frame plus per-slot diagnostics.
type Reported struct {
	Coords  [MaxFingers]Coord
	Moves   [MaxFingers]uint32
	Touches [MaxFingers]uint32
	Buttons uint8 // bit i set while button i is down
	Dropped uint32
}

// Active counts slots currently reported as present.
func (r *Reported) Active() int {
	n := 0
	for i := range r.Coords {
		if r.Coords[i].Has(SubExist) {
			n++
		}
	}
	return n
}

// Release emits a release for every present slot and an up for every held
// button, then zeroes the record. Used when the chip is reset under us.
func (r *Reported) Release(out []Event) []Event {
	for i := range r.Coords {
		if r.Coords[i].Has(SubExist) {
			out = append(out, Event{Kind: ContactReleased, Slot: i, Moves: r.Moves[i]})
		}
		r.Coords[i] = Coord{}
		r.Moves[i] = 0
	}
	for i := 0; i < MaxButtons; i++ {
		if r.Buttons&(1<<i) != 0 {
			out = append(out, Event{Kind: ButtonUp, Slot: i})
		}
	}
	r.Buttons = 0
	return out
}

// Decoder turns frames into events. It holds configuration only; all
// history lives in the Reported passed to Decode.
type Decoder struct {
	maxX, maxY uint16 // host-frame bounds
	flip       uint8
	fingers    int
	buttons    int
}

// NewDecoder builds a decoder for the given chip description.
func NewDecoder(c Capabilities, flip uint8) *Decoder {
	f := c.Fingers
	if f < 1 || f > MaxFingers {
		f = DefaultFingers
	}
	return &Decoder{
		maxX:    c.MaxX,
		maxY:    c.MaxY,
		flip:    flip & flipMask,
		fingers: f,
		buttons: mathx.Clamp(c.Buttons, 0, MaxButtons),
	}
}

// chipBounds are the bounds in the chip's own axes.
func (d *Decoder) chipBounds() (uint16, uint16) {
	if d.flip&SwapXY != 0 {
		return d.maxY, d.maxX
	}
	return d.maxX, d.maxY
}

func (d *Decoder) transform(x, y uint16) (uint16, uint16) {
	if d.flip&SwapXY != 0 {
		x, y = y, x
	}
	if d.flip&FlipH != 0 {
		x = d.maxX - x
	}
	if d.flip&FlipV != 0 {
		y = d.maxY - y
	}
	return x, y
}

func width(w uint8, p Palm) uint8 {
	switch p {
	case PalmReport:
		return palmWidth
	case PalmReject:
		return palmRejectWidth
	}
	return mathx.Clamp(w, 1, palmWidth-10)
}

// Decode appends the events f produces relative to r and advances r to f.
// A frame with the must-be-zero bit set returns ErrInvalidFrame and leaves
// r untouched. Slots outside the bounds are skipped and counted in
// r.Dropped; the rest of the frame still decodes.
func (d *Decoder) Decode(f *Frame, r *Reported, out []Event) ([]Event, error) {
	if f.Has(StatusMustZero) {
		return out, ErrInvalidFrame
	}
	if f.Heartbeat() {
		return out, nil
	}

	if f.Has(StatusButton) {
		out = d.buttonEvents(f.Buttons, r, out)
	}

	n := d.fingers
	if f.Slots > 0 && f.Slots < n {
		n = f.Slots
	}

	if !f.Has(StatusPointExist) {
		for i := 0; i < n; i++ {
			if r.Coords[i].Has(SubExist) {
				out = append(out, Event{Kind: ContactReleased, Slot: i, Moves: r.Moves[i]})
			}
			r.Coords[i] = Coord{}
			r.Moves[i] = 0
		}
		return out, nil
	}

	palm := PalmNone
	if f.Has(StatusPalm) {
		palm = PalmReport
	}
	if f.Has(StatusPalmReject) {
		palm = PalmReject
	}

	bx, by := d.chipBounds()
	for i := 0; i < n; i++ {
		cur := f.Coords[i]
		prev := r.Coords[i]
		switch {
		case cur.Has(SubExist):
			if cur.X > bx || cur.Y > by {
				r.Dropped++
				continue
			}
			ev := Event{Kind: ContactUpdate, Slot: i, Width: width(cur.Width, palm), Palm: palm}
			ev.X, ev.Y = d.transform(cur.X, cur.Y)
			if !prev.Has(SubExist) {
				ev.New = true
				r.Touches[i]++
				r.Moves[i] = 0
			} else {
				r.Moves[i]++
			}
			ev.Moves = r.Moves[i]
			out = append(out, ev)
			r.Coords[i] = cur
		case cur.Has(SubUp) || prev.Has(SubExist):
			out = append(out, Event{Kind: ContactReleased, Slot: i, Moves: r.Moves[i]})
			r.Coords[i] = Coord{}
			r.Moves[i] = 0
		default:
			r.Coords[i] = Coord{}
		}
	}
	return out, nil
}

// buttonEvents applies the icon status word: bits 0..7 down, 8..15 up.
func (d *Decoder) buttonEvents(icon uint16, r *Reported, out []Event) []Event {
	for i := 0; i < d.buttons; i++ {
		bit := uint8(1) << i
		held := r.Buttons&bit != 0
		if icon&(1<<i) != 0 && !held {
			r.Buttons |= bit
			out = append(out, Event{Kind: ButtonDown, Slot: i})
		}
		if icon&(1<<(i+8)) != 0 && held {
			r.Buttons &^= bit
			out = append(out, Event{Kind: ButtonUp, Slot: i})
		}
	}
	return out
}
