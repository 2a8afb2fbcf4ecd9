package touch

import (
	"sync"

	"bt532-go/bus"
	"bt532-go/drivers/bt532"
	"bt532-go/types"
)

// Frame is what one interrupt (or a forced release) produced.
type Frame struct {
	Events []bt532.Event
	Active int   // contacts still down after the frame
	TS     int64 // unix ms
}

// Sink receives decoded frames. Emit runs on the interrupt path with the
// device held and must not block; f.Events is reused after it returns.
type Sink interface {
	Emit(f Frame)
}

// ---- bus ----

type busSink struct {
	conn  *bus.Connection
	topic bus.Topic
}

func (b *busSink) Emit(f Frame) {
	out := types.TouchFrame{Events: make([]types.TouchEvent, len(f.Events)), Active: f.Active, TS: f.TS}
	for i, e := range f.Events {
		out.Events[i] = types.TouchEvent{
			Kind:  e.Kind.String(),
			Slot:  e.Slot,
			X:     e.X,
			Y:     e.Y,
			Width: e.Width,
			Palm:  uint8(e.Palm),
			New:   e.New,
		}
	}
	b.conn.Publish(b.conn.NewMessage(b.topic, out, false))
}

// ---- recorder ----

// Recorder keeps every frame it is given. For tests and the console's
// "events" dump.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *Recorder) Emit(f Frame) {
	f.Events = append([]bt532.Event(nil), f.Events...)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

// Frames returns a copy of what was recorded.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Events flattens the recorded frames.
func (r *Recorder) Events() []bt532.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bt532.Event
	for _, f := range r.frames {
		out = append(out, f.Events...)
	}
	return out
}

// ---- fan-out ----

type multiSink []Sink

func (m multiSink) Emit(f Frame) {
	for _, s := range m {
		s.Emit(f)
	}
}
