package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now() = %v, before %v", got, before)
	}
}

func TestRealClock_Ticker(t *testing.T) {
	tk := RealClock{}.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		if want := start.Add(time.Second); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire after a full interval")
	}
	if c.Tickers() != 1 {
		t.Errorf("Tickers() = %d, want 1", c.Tickers())
	}
}

func TestMockClock_StoppedTickerIsSilent(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_SetDoesNotFire(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	c.Set(time.Unix(100, 0))
	if got := c.Now(); !got.Equal(time.Unix(100, 0)) {
		t.Errorf("Now() = %v after Set", got)
	}
	select {
	case <-tk.C():
		t.Fatal("Set fired a ticker")
	default:
	}
}
