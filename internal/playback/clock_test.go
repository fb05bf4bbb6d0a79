package playback

import (
	"errors"
	"math"
	"testing"
	"time"
)

func fixed(d float64) DurationFunc {
	return func() float64 { return d }
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClock_PlayRefusesEmptyTimeline(t *testing.T) {
	c := NewClock(fixed(0))
	if c.Play() {
		t.Fatal("Play should refuse an empty timeline")
	}
	if c.Playing() {
		t.Fatal("clock should stay stopped")
	}
}

func TestClock_AdvanceScalesByRate(t *testing.T) {
	c := NewClock(fixed(10))
	if err := c.SetRate(2); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	c.Play()

	res := c.Advance(1500 * time.Millisecond)
	if !near(res.Time, 3) || res.Ended {
		t.Fatalf("Advance = %+v, want time 3", res)
	}
}

func TestClock_AutoStopsAndRewinds(t *testing.T) {
	c := NewClock(fixed(10))
	_ = c.SetRate(2)
	c.Play()

	var ended bool
	for i := 0; i < 60; i++ {
		res := c.Advance(100 * time.Millisecond)
		if res.Ended {
			ended = true
		}
	}
	if !ended {
		t.Fatal("expected playback to reach the end")
	}
	if c.Playing() {
		t.Fatal("clock should stop at the end")
	}
	if c.Time() != 0 {
		t.Fatalf("cursor = %v, want 0 after end", c.Time())
	}
}

func TestClock_EndThreshold(t *testing.T) {
	c := NewClock(fixed(10))
	c.Seek(9.98)
	c.Play()
	res := c.Advance(time.Millisecond)
	if !res.Ended || c.Time() != 0 {
		t.Fatalf("cursor within threshold of end should rewind, got %+v", res)
	}
}

func TestClock_StoppedDoesNotAdvance(t *testing.T) {
	c := NewClock(fixed(10))
	c.Seek(4)
	res := c.Advance(time.Second)
	if res.Advanced || c.Time() != 4 {
		t.Fatalf("stopped clock moved: %+v", res)
	}
}

func TestClock_TickUsesWallClock(t *testing.T) {
	c := NewClock(fixed(10))
	c.Play()
	start := time.Unix(1000, 0)

	if res := c.Tick(start); res.Time != 0 {
		t.Fatalf("first tick should not advance, got %v", res.Time)
	}
	if res := c.Tick(start.Add(250 * time.Millisecond)); !near(res.Time, 0.25) {
		t.Fatalf("second tick time = %v, want 0.25", res.Time)
	}

	c.Pause()
	c.Play()
	if res := c.Tick(start.Add(10 * time.Second)); !near(res.Time, 0.25) {
		t.Fatalf("tick after resume should reset the reference, got %v", res.Time)
	}
}

func TestClock_SeekAndStepClamp(t *testing.T) {
	c := NewClock(fixed(10))

	tests := []struct {
		name string
		op   func() float64
		want float64
	}{
		{name: "seek inside", op: func() float64 { return c.Seek(4) }, want: 4},
		{name: "seek past end", op: func() float64 { return c.Seek(25) }, want: 10},
		{name: "seek negative", op: func() float64 { return c.Seek(-3) }, want: 0},
		{name: "step back at zero", op: func() float64 { return c.Step(-1) }, want: 0},
		{name: "step forward", op: func() float64 { return c.Step(1) }, want: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.op(); !near(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClock_ClampAfterShrink(t *testing.T) {
	total := 10.0
	c := NewClock(func() float64 { return total })
	c.Seek(8)
	total = 5
	if !c.Clamp() || c.Time() != 5 {
		t.Fatalf("Clamp should pull cursor to 5, got %v", c.Time())
	}
	if c.Clamp() {
		t.Fatal("second Clamp should be a no-op")
	}
}

func TestClock_SetRateRejectsNonPositive(t *testing.T) {
	c := NewClock(fixed(10))
	for _, r := range []float64{0, -1} {
		if err := c.SetRate(r); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("SetRate(%v) err = %v", r, err)
		}
	}
	if c.Rate() != 1 {
		t.Fatalf("rate = %v, want unchanged 1", c.Rate())
	}
}
