package mediasync

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

// DefaultTolerance is the drift allowed before a playing sink is re-seeked.
const DefaultTolerance = 0.25

// Desired is what a media sink should be presenting at a global time.
type Desired struct {
	ClipID    string
	SourceRef string
	LocalTime float64
}

// DesiredState computes the target for one media track at global time t.
// It reports false when the track has no clip there.
func DesiredState(ts timeline.Tracks, track timeline.TrackKind, t float64) (Desired, bool) {
	loc, ok := ts.Locate(track, t)
	if !ok {
		return Desired{}, false
	}
	return Desired{
		ClipID:    loc.Clip.ID,
		SourceRef: loc.Clip.SourceID,
		LocalTime: loc.LocalTime(),
	}, true
}

// DesiredOverlay computes the text overlay at global time t.
func DesiredOverlay(ts timeline.Tracks, t float64) (Overlay, bool) {
	loc, ok := ts.Locate(timeline.TrackText, t)
	if !ok {
		return Overlay{}, false
	}
	text := loc.Clip.Text
	if text == "" {
		text = loc.Clip.Label
	}
	return Overlay{
		ClipID:     loc.Clip.ID,
		Text:       text,
		Font:       loc.Clip.Font,
		Color:      loc.Clip.Color,
		StackOrder: BaseStackOrder + loc.Clip.Layer,
	}, true
}

// TrackReport describes what Sync did to one media sink.
type TrackReport struct {
	ClipID    string  `json:"clip_id,omitempty"`
	LocalTime float64 `json:"local_time"`
	Idle      bool    `json:"idle"`
	Reloaded  bool    `json:"reloaded"`
	Seeked    bool    `json:"seeked"`
	Pending   bool    `json:"pending"`
}

// SinkFailure records a sink operation that failed. Other sinks still ran.
type SinkFailure struct {
	Track timeline.TrackKind
	Op    string
	Err   error
}

func (f SinkFailure) Error() string {
	return fmt.Sprintf("%s sink %s: %v", f.Track, f.Op, f.Err)
}

// Report is the outcome of one Sync pass.
type Report struct {
	Time     float64
	Video    TrackReport
	Audio    TrackReport
	Overlay  *Overlay
	Failures []SinkFailure
}

type command int

const (
	commandUnknown command = iota
	commandPlaying
	commandPaused
)

type pendingApply struct {
	generation uint64
	clipID     string
	sourceRef  string
	localTime  float64
	play       bool
}

type trackState struct {
	clipID  string
	command command
	pending *pendingApply
}

// Config wires sinks into a Synchronizer. Nil sinks are skipped.
type Config struct {
	Video     MediaSink
	Audio     MediaSink
	Text      OverlaySink
	Tolerance float64
	Logger    *slog.Logger
}

// Synchronizer drives sinks toward the clip under the playback cursor.
type Synchronizer struct {
	mu         sync.Mutex
	sinks      map[timeline.TrackKind]MediaSink
	text       OverlaySink
	tolerance  float64
	logger     *slog.Logger
	state      map[timeline.TrackKind]*trackState
	overlay    *Overlay
	overlaySet bool
	generation uint64
	rate       float64
}

// New creates a Synchronizer.
func New(cfg Config) *Synchronizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	s := &Synchronizer{
		sinks:     make(map[timeline.TrackKind]MediaSink),
		text:      cfg.Text,
		tolerance: tolerance,
		logger:    logger.With("component", "mediasync"),
		state:     make(map[timeline.TrackKind]*trackState),
		rate:      1,
	}
	if cfg.Video != nil {
		s.sinks[timeline.TrackVideo] = cfg.Video
	}
	if cfg.Audio != nil {
		s.sinks[timeline.TrackAudio] = cfg.Audio
	}
	for _, track := range []timeline.TrackKind{timeline.TrackVideo, timeline.TrackAudio} {
		s.state[track] = &trackState{}
	}
	return s
}

// Generation returns the current invalidation counter.
func (s *Synchronizer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Invalidate marks every parked apply as outdated. Called on seeks, play
// state changes and edits.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// Reset forgets everything known about the sinks.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	for track := range s.state {
		s.state[track] = &trackState{}
	}
	s.overlay = nil
	s.overlaySet = false
}

// Sync reconciles every sink with global time t. A forced sync seeks even
// when drift is within tolerance.
func (s *Synchronizer) Sync(ts timeline.Tracks, t float64, playing, force bool) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	if force {
		s.generation++
	}
	report := Report{Time: t}
	report.Video = s.syncMedia(&report, timeline.TrackVideo, ts, t, playing, force)
	report.Audio = s.syncMedia(&report, timeline.TrackAudio, ts, t, playing, force)
	report.Overlay = s.syncOverlay(&report, ts, t, force)
	return report
}

func (s *Synchronizer) syncMedia(report *Report, track timeline.TrackKind, ts timeline.Tracks, t float64, playing, force bool) TrackReport {
	sink, ok := s.sinks[track]
	if !ok {
		return TrackReport{Idle: true}
	}
	st := s.state[track]
	fail := func(op string, err error) TrackReport {
		s.recordFailure(report, track, op, err)
		return TrackReport{ClipID: st.clipID}
	}

	want, ok := DesiredState(ts, track, t)
	if !ok {
		if st.clipID != "" || st.command != commandPaused || sink.LoadedSource() != "" {
			if err := guard(sink.Pause); err != nil {
				return fail("pause", err)
			}
			if err := guard(sink.Unload); err != nil {
				return fail("unload", err)
			}
		}
		st.clipID = ""
		st.pending = nil
		st.command = commandPaused
		return TrackReport{Idle: true}
	}

	tr := TrackReport{ClipID: want.ClipID, LocalTime: want.LocalTime}
	if sink.LoadedSource() != want.SourceRef {
		if err := guard(func() error { return sink.Load(want.SourceRef) }); err != nil {
			return fail("load", err)
		}
		st.command = commandUnknown
		tr.Reloaded = true
		if rs, ok := sink.(RateSetter); ok {
			if err := guard(func() error { return rs.SetRate(s.rate) }); err != nil {
				s.recordFailure(report, track, "rate", err)
			}
		}
	}
	st.clipID = want.ClipID

	drift := math.Abs(sink.CurrentPosition() - want.LocalTime)
	if tr.Reloaded || force || drift > s.tolerance || st.pending != nil {
		if sink.ReadyState() < HaveCurrentData {
			st.pending = &pendingApply{
				generation: s.generation,
				clipID:     want.ClipID,
				sourceRef:  want.SourceRef,
				localTime:  want.LocalTime,
				play:       playing,
			}
			tr.Pending = true
			return tr
		}
		st.pending = nil
		if err := guard(func() error { return sink.Seek(want.LocalTime) }); err != nil {
			return fail("seek", err)
		}
		tr.Seeked = true
	}

	switch {
	case playing && (tr.Seeked || st.command != commandPlaying):
		if err := guard(sink.Play); err != nil {
			return fail("play", err)
		}
		st.command = commandPlaying
	case !playing && st.command != commandPaused:
		if err := guard(sink.Pause); err != nil {
			return fail("pause", err)
		}
		st.command = commandPaused
	}
	return tr
}

func (s *Synchronizer) syncOverlay(report *Report, ts timeline.Tracks, t float64, force bool) *Overlay {
	if s.text == nil {
		return nil
	}
	want, ok := DesiredOverlay(ts, t)
	if !ok {
		if s.overlay != nil || !s.overlaySet {
			if err := guard(s.text.Hide); err != nil {
				s.recordFailure(report, timeline.TrackText, "hide", err)
				return nil
			}
		}
		s.overlay = nil
		s.overlaySet = true
		return nil
	}
	if force || s.overlay == nil || *s.overlay != want {
		if err := guard(func() error { return s.text.Show(want) }); err != nil {
			s.recordFailure(report, timeline.TrackText, "show", err)
			return nil
		}
	}
	s.overlay = &want
	s.overlaySet = true
	shown := want
	return &shown
}

// SinkReady completes a parked seek once a sink reports sourceRef is ready.
// Completions for an older load, or parked before a newer seek, are dropped.
// It reports whether the parked apply ran.
func (s *Synchronizer) SinkReady(track timeline.TrackKind, sourceRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sink, ok := s.sinks[track]
	if !ok {
		return false, nil
	}
	st := s.state[track]
	p := st.pending
	if p == nil {
		return false, nil
	}
	if p.sourceRef != sourceRef {
		s.logger.Debug("discarding ready signal for previous source",
			"track", track, "source", sourceRef, "pending_source", p.sourceRef)
		return false, nil
	}
	if p.generation != s.generation || p.clipID != st.clipID {
		s.logger.Debug("discarding stale parked seek",
			"track", track, "clip_id", p.clipID, "generation", p.generation, "current", s.generation)
		st.pending = nil
		return false, nil
	}

	st.pending = nil
	if err := guard(func() error { return sink.Seek(p.localTime) }); err != nil {
		s.logger.Warn("sink seek failed", "track", track, "error", err)
		return false, SinkFailure{Track: track, Op: "seek", Err: err}
	}
	if p.play {
		if err := guard(sink.Play); err != nil {
			s.logger.Warn("sink play failed", "track", track, "error", err)
			return false, SinkFailure{Track: track, Op: "play", Err: err}
		}
		st.command = commandPlaying
	} else {
		st.command = commandUnknown
	}
	return true, nil
}

// SetRate forwards the playback rate to sinks that support it.
func (s *Synchronizer) SetRate(rate float64) []SinkFailure {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rate = rate
	var failures []SinkFailure
	for track, sink := range s.sinks {
		rs, ok := sink.(RateSetter)
		if !ok {
			continue
		}
		if err := guard(func() error { return rs.SetRate(rate) }); err != nil {
			s.logger.Warn("sink rate change failed", "track", track, "error", err)
			failures = append(failures, SinkFailure{Track: track, Op: "rate", Err: err})
		}
	}
	return failures
}

func (s *Synchronizer) recordFailure(report *Report, track timeline.TrackKind, op string, err error) {
	s.logger.Warn("sink operation failed", "track", track, "op", op, "error", err)
	report.Failures = append(report.Failures, SinkFailure{Track: track, Op: op, Err: err})
}

// guard runs a sink call, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return fn()
}
