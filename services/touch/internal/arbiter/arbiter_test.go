package arbiter

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryEnterBusyThenRelease(t *testing.T) {
	a := New()
	g, err := a.TryEnter(FirmwareUpgrade)
	if err != nil {
		t.Fatalf("TryEnter: %v", err)
	}
	if a.State() != FirmwareUpgrade || !a.Held() {
		t.Fatalf("state = %v held=%v", a.State(), a.Held())
	}
	if _, err := a.TryEnter(Normal); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	g.Release()
	g.Release() // second release is a no-op
	if a.State() != Idle || a.Held() {
		t.Fatalf("state = %v held=%v after release", a.State(), a.Held())
	}
	g2, err := a.TryEnter(Normal)
	if err != nil {
		t.Fatalf("TryEnter after release: %v", err)
	}
	g.Release() // stale guard must not free g2
	if !a.Held() {
		t.Fatal("stale release freed a live guard")
	}
	g2.Release()
}

func TestParkRestrictsPredecessors(t *testing.T) {
	a := New()
	g, _ := a.Enter(Suspend, Idle, EarlySuspend)
	g.Park(Suspend)
	if a.Held() || a.State() != Suspend {
		t.Fatalf("state = %v held=%v", a.State(), a.Held())
	}

	_, err := a.TryEnter(Normal)
	var se *StateError
	if !errors.As(err, &se) || !errors.Is(err, ErrInvalidState) || se.Have != Suspend {
		t.Fatalf("want StateError from suspend, got %v", err)
	}
	if _, err := a.Enter(FirmwareUpgrade); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("firmware upgrade while suspended: %v", err)
	}

	g, err = a.Enter(Resume, Suspend)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	g.Park(Resume)
	g, err = a.Enter(LateResume, EarlySuspend, Resume)
	if err != nil {
		t.Fatalf("late resume: %v", err)
	}
	g.Release()
	if a.State() != Idle {
		t.Fatalf("state = %v", a.State())
	}
}

func TestRemovedIsTerminal(t *testing.T) {
	a := New()
	g, _ := a.Enter(Removing)
	g.Park(Removed)
	for _, op := range []State{Normal, FirmwareUpgrade, Resume, LateResume, Removing} {
		if _, err := a.Enter(op, Idle, Suspend, EarlySuspend, Resume); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%v after removal: %v", op, err)
		}
	}
}

func TestEnterWaitsForRelease(t *testing.T) {
	a := New()
	g, _ := a.Enter(HardwareCalibration)

	entered := make(chan struct{})
	go func() {
		g2, err := a.Enter(ModeSet)
		if err != nil {
			t.Errorf("Enter: %v", err)
			close(entered)
			return
		}
		close(entered)
		g2.Release()
	}()

	select {
	case <-entered:
		t.Fatal("Enter must block while the device is held")
	case <-time.After(30 * time.Millisecond):
	}
	g.Release()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("Enter did not wake after release")
	}
}

func TestMutualExclusion(t *testing.T) {
	a := New()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var g *Guard
				var err error
				if i%2 == 0 {
					g, err = a.Enter(ModeSet)
				} else if g, err = a.TryEnter(Normal); err != nil {
					continue
				}
				if err != nil {
					t.Errorf("Enter: %v", err)
					return
				}
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				inside.Add(-1)
				g.Release()
			}
		}(i)
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside.Load())
	}
	if a.Held() || a.State() != Idle {
		t.Fatal("guard leaked")
	}
}

func TestOnChange(t *testing.T) {
	a := New()
	var seen []State
	a.OnChange(func(s State) { seen = append(seen, s) })
	g, _ := a.Enter(EarlySuspend)
	g.Park(EarlySuspend)
	g, _ = a.Enter(LateResume, EarlySuspend)
	g.Release()
	want := []State{EarlySuspend, EarlySuspend, LateResume, Idle}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestEscalate(t *testing.T) {
	a := New()
	var seen []State
	a.OnChange(func(s State) { seen = append(seen, s) })

	g, err := a.TryEnter(Normal)
	if err != nil {
		t.Fatal(err)
	}
	g.Escalate(EsdRecovery)
	if a.State() != EsdRecovery || !a.Held() || g.Op() != EsdRecovery {
		t.Fatalf("state = %v held = %v", a.State(), a.Held())
	}
	if _, err := a.TryEnter(Normal); err != ErrBusy {
		t.Fatalf("escalated guard must still hold the device: %v", err)
	}
	g.Release()
	g.Escalate(FirmwareUpgrade)
	if a.State() != Idle || a.Held() {
		t.Fatalf("escalate after release changed state to %v", a.State())
	}
	want := []State{Normal, EsdRecovery, Idle}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if FirmwareUpgrade.String() != "firmware_upgrade" || State(99).String() != "state(99)" {
		t.Fatal("state names")
	}
}
