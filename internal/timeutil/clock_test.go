package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Ticker(t *testing.T) {
	ticker := RealClock{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(500 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(10 * time.Millisecond)

	clock.Advance(5 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(5 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(10 * time.Millisecond)) {
			t.Errorf("tick = %v, want %v", got, start.Add(10*time.Millisecond))
		}
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_After(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire")
	}
	if d := clock.Since(time.Unix(0, 0)); d != time.Second {
		t.Errorf("Since() = %v, want 1s", d)
	}
}

func TestSoftwareClock(t *testing.T) {
	clock := NewMockClock(time.Unix(100, 0))
	sw := NewSoftwareClock(clock)

	if got := sw.SoftwareTimestamp(); got != 0 {
		t.Errorf("SoftwareTimestamp() = %d, want 0", got)
	}

	clock.Advance(1500 * time.Millisecond)
	if got := sw.SoftwareTimestamp(); got != 1500 {
		t.Errorf("SoftwareTimestamp() = %d, want 1500", got)
	}
	if got := sw.SampleNumber(30000); got != 45000 {
		t.Errorf("SampleNumber() = %d, want 45000", got)
	}

	sw.Restart()
	if got := sw.SoftwareTimestamp(); got != 0 {
		t.Errorf("after Restart SoftwareTimestamp() = %d, want 0", got)
	}
	if !sw.Origin().Equal(time.Unix(101, 500_000_000)) {
		t.Errorf("Origin() = %v", sw.Origin())
	}
}
