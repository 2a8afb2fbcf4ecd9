package touch

import (
	"errors"
	"fmt"
	"testing"

	"bt532-go/drivers/bt532"
)

type fakeInput struct {
	log   []string
	syncs int
	err   error
}

func (f *fakeInput) Contact(slot int, x, y uint16, w uint8) {
	f.log = append(f.log, fmt.Sprintf("contact %d %d,%d w%d", slot, x, y, w))
}
func (f *fakeInput) Lift(slot int)        { f.log = append(f.log, fmt.Sprintf("lift %d", slot)) }
func (f *fakeInput) Key(i int, down bool) { f.log = append(f.log, fmt.Sprintf("key %d %v", i, down)) }
func (f *fakeInput) Sync() error          { f.syncs++; return f.err }

func TestUinputSinkTranslates(t *testing.T) {
	in := &fakeInput{}
	s := &uinputSink{dev: in}
	s.Emit(Frame{Events: []bt532.Event{
		{Kind: bt532.ContactUpdate, Slot: 0, X: 10, Y: 20, Width: 4, New: true},
		{Kind: bt532.ButtonDown, Slot: 1},
	}, Active: 1})
	s.Emit(Frame{Events: []bt532.Event{
		{Kind: bt532.ContactReleased, Slot: 0},
		{Kind: bt532.ButtonUp, Slot: 1},
	}})

	want := []string{"contact 0 10,20 w4", "key 1 true", "lift 0", "key 1 false"}
	if fmt.Sprint(in.log) != fmt.Sprint(want) {
		t.Fatalf("log = %v, want %v", in.log, want)
	}
	if in.syncs != 2 {
		t.Fatalf("syncs = %d", in.syncs)
	}
}

func TestUinputSinkReportsFailureOnce(t *testing.T) {
	in := &fakeInput{err: errors.New("enodev")}
	s := &uinputSink{dev: in}
	s.Emit(Frame{})
	s.Emit(Frame{})
	if !s.failed || in.syncs != 2 {
		t.Fatalf("failed=%v syncs=%d", s.failed, in.syncs)
	}
}

func TestRecorderCopiesEvents(t *testing.T) {
	var r Recorder
	evs := []bt532.Event{{Kind: bt532.ContactUpdate, Slot: 3}}
	r.Emit(Frame{Events: evs, Active: 1})
	evs[0].Slot = 9
	if got := r.Events(); len(got) != 1 || got[0].Slot != 3 {
		t.Fatalf("events = %+v", got)
	}
	if f := r.Frames(); len(f) != 1 || f[0].Active != 1 {
		t.Fatalf("frames = %+v", f)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	var a, b Recorder
	multiSink{&a, &b}.Emit(Frame{Events: []bt532.Event{{Kind: bt532.ButtonDown}}})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("fan-out missed a sink")
	}
}
