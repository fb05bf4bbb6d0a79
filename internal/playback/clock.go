package playback

import (
	"errors"
	"time"
)

// EndThreshold is how close to the end the cursor may get before playback
// stops and rewinds.
const EndThreshold = 0.01

// MinTickRate is the slowest tick frequency that keeps playback smooth.
const MinTickRate = 10

var ErrInvalidRate = errors.New("playback rate must be positive")

// DurationFunc reports the current total timeline duration in seconds.
type DurationFunc func() float64

// State is the externally visible clock state.
type State struct {
	Time    float64 `json:"time"`
	Playing bool    `json:"playing"`
	Rate    float64 `json:"rate"`
}

// TickResult describes what a tick did.
type TickResult struct {
	Time float64
	// Ended is set when the tick reached the end and the clock rewound to 0.
	Ended bool
	// Advanced is false when the clock was stopped.
	Advanced bool
}

// Clock is a virtual playback clock over a timeline whose duration may change
// between ticks. It is not safe for concurrent use.
type Clock struct {
	duration DurationFunc
	current  float64
	playing  bool
	rate     float64
	lastTick time.Time
}

// NewClock creates a stopped clock at 0 with rate 1.
func NewClock(duration DurationFunc) *Clock {
	return &Clock{duration: duration, rate: 1}
}

// State returns cursor, play state and rate.
func (c *Clock) State() State {
	return State{Time: c.current, Playing: c.playing, Rate: c.rate}
}

// Time returns the cursor.
func (c *Clock) Time() float64 { return c.current }

// Playing reports whether the clock is advancing.
func (c *Clock) Playing() bool { return c.playing }

// Rate returns the playback rate multiplier.
func (c *Clock) Rate() float64 { return c.rate }

// Play starts the clock. It refuses an empty timeline.
func (c *Clock) Play() bool {
	if c.duration() <= 0 {
		return false
	}
	c.playing = true
	c.lastTick = time.Time{}
	return true
}

// Pause stops the clock where it is.
func (c *Clock) Pause() {
	c.playing = false
	c.lastTick = time.Time{}
}

// SetRate changes the playback speed.
func (c *Clock) SetRate(rate float64) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	c.rate = rate
	return nil
}

// Tick advances by the wall-clock time elapsed since the previous tick. The
// first tick after Play only records its timestamp.
func (c *Clock) Tick(now time.Time) TickResult {
	if !c.playing {
		return TickResult{Time: c.current}
	}
	if c.lastTick.IsZero() {
		c.lastTick = now
		return TickResult{Time: c.current, Advanced: true}
	}
	delta := now.Sub(c.lastTick)
	c.lastTick = now
	if delta < 0 {
		delta = 0
	}
	return c.advance(delta)
}

// Advance moves the cursor by delta scaled by the rate.
func (c *Clock) Advance(delta time.Duration) TickResult {
	if !c.playing {
		return TickResult{Time: c.current}
	}
	return c.advance(delta)
}

func (c *Clock) advance(delta time.Duration) TickResult {
	total := c.duration()
	next := c.current + delta.Seconds()*c.rate
	if next > total {
		next = total
	}
	if next >= total-EndThreshold {
		c.playing = false
		c.lastTick = time.Time{}
		c.current = 0
		return TickResult{Time: 0, Ended: true, Advanced: true}
	}
	c.current = next
	return TickResult{Time: next, Advanced: true}
}

// Seek moves the cursor, clamped into [0, total].
func (c *Clock) Seek(t float64) float64 {
	c.current = c.clamp(t)
	return c.current
}

// Step seeks relative to the cursor.
func (c *Clock) Step(delta float64) float64 {
	return c.Seek(c.current + delta)
}

// Clamp pulls the cursor back inside the timeline after an edit shortened it.
// It reports whether the cursor moved.
func (c *Clock) Clamp() bool {
	clamped := c.clamp(c.current)
	if clamped == c.current {
		return false
	}
	c.current = clamped
	return true
}

// Reset stops the clock and rewinds to 0 with rate 1.
func (c *Clock) Reset() {
	c.current = 0
	c.playing = false
	c.rate = 1
	c.lastTick = time.Time{}
}

func (c *Clock) clamp(t float64) float64 {
	total := c.duration()
	if t > total {
		t = total
	}
	if t < 0 {
		t = 0
	}
	return t
}
