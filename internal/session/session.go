// Package session holds the editor state for one running agent: the
// timeline, the playback clock, the media synchronizer and the selection.
// Every command runs under one mutex, so edits, seeks and ticks never
// interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/mediasync"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

const (
	// DefaultTickInterval drives the clock at 20Hz.
	DefaultTickInterval = 50 * time.Millisecond
	// MaxTickInterval keeps the scheduler at or above 10Hz.
	MaxTickInterval = time.Second / playback.MinTickRate
	// DefaultStep is the seek distance of the step buttons.
	DefaultStep = 1.0
)

// SourceResolver looks up the library asset behind a clip source. It
// reports false for an asset that does not exist.
type SourceResolver interface {
	Source(ctx context.Context, id string) (timeline.SourceRef, bool, error)
}

// Selection identifies the clip the user is working on.
type Selection struct {
	Track  timeline.TrackKind `json:"track"`
	ClipID string             `json:"clip_id"`
}

// View is a consistent snapshot of the session.
type View struct {
	Tracks         timeline.Tracks                `json:"tracks"`
	TrackDurations map[timeline.TrackKind]float64 `json:"track_durations"`
	TotalDuration  float64                        `json:"total_duration"`
	Playback       playback.State                 `json:"playback"`
	Selection      *Selection                     `json:"selection"`
	Overlay        *mediasync.Overlay             `json:"overlay"`
	Video          mediasync.TrackReport          `json:"video"`
	Audio          mediasync.TrackReport          `json:"audio"`
	Generation     uint64                         `json:"generation"`
}

// StateEvent is emitted after every command that changed the session.
type StateEvent struct {
	Reason   string                  `json:"reason"`
	View     View                    `json:"view"`
	Failures []mediasync.SinkFailure `json:"-"`
}

// Listener receives state events. It is called without the session lock.
type Listener func(ev StateEvent)

// Config wires a Session.
type Config struct {
	Video            mediasync.MediaSink
	Audio            mediasync.MediaSink
	Text             mediasync.OverlaySink
	Tolerance        float64
	Sources          SourceResolver
	FallbackDuration float64
	// IDGenerator overrides clip IDs, mostly for tests.
	IDGenerator func() string
	Logger      *slog.Logger
}

// Session is the process-scoped editor state.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	tl         *timeline.Timeline
	editor     *timeline.Editor
	clock      *playback.Clock
	syncer     *mediasync.Synchronizer
	selection  *Selection
	lastReport mediasync.Report

	listenMu  sync.RWMutex
	listeners []Listener
}

// New creates a session with an empty timeline.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{cfg: cfg, logger: logger.With("component", "session")}
	s.build()
	return s
}

func (s *Session) build() {
	s.tl = timeline.New()
	opts := []timeline.EditorOption{timeline.WithFallbackDuration(s.cfg.FallbackDuration)}
	if s.cfg.IDGenerator != nil {
		opts = append(opts, timeline.WithIDGenerator(s.cfg.IDGenerator))
	}
	s.editor = timeline.NewEditor(s.tl, opts...)
	s.clock = playback.NewClock(s.tl.TotalDuration)
	s.syncer = mediasync.New(mediasync.Config{
		Video:     s.cfg.Video,
		Audio:     s.cfg.Audio,
		Text:      s.cfg.Text,
		Tolerance: s.cfg.Tolerance,
		Logger:    s.logger,
	})
	s.selection = nil
	s.lastReport = mediasync.Report{}
}

// Subscribe registers a listener for state events.
func (s *Session) Subscribe(fn Listener) {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenMu.Unlock()
}

func (s *Session) emit(ev StateEvent) {
	s.listenMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// do runs fn under the lock. On success the cursor is clamped, sinks are
// synchronized and an event is emitted. Errors leave the session untouched.
func (s *Session) do(reason string, force bool, fn func() error) (View, error) {
	return s.doAs(force, func() (string, error) { return reason, fn() })
}

// doAs is do for commands that decide their event reason under the lock.
func (s *Session) doAs(force bool, fn func() (string, error)) (View, error) {
	s.mu.Lock()
	reason, err := fn()
	if err != nil {
		v := s.viewLocked()
		s.mu.Unlock()
		s.logFailure(reason, err)
		return v, err
	}
	ev := s.settleLocked(reason, force)
	s.mu.Unlock()
	s.emit(ev)
	return ev.View, nil
}

func (s *Session) logFailure(reason string, err error) {
	switch {
	case timeline.IsStale(err):
		s.logger.Debug("ignoring stale command", "command", reason, "error", err)
	case errors.Is(err, timeline.ErrPolicyViolation), errors.Is(err, timeline.ErrInvalidOperation):
		s.logger.Info("command rejected", "command", reason, "reason", timeline.UserMessage(err))
	default:
		s.logger.Warn("command failed", "command", reason, "error", err)
	}
}

func (s *Session) settleLocked(reason string, force bool) StateEvent {
	s.clock.Clamp()
	s.dropStaleSelectionLocked()
	report := s.syncer.Sync(s.tl.Snapshot(), s.clock.Time(), s.clock.Playing(), force)
	s.lastReport = report
	return StateEvent{Reason: reason, View: s.viewLocked(), Failures: report.Failures}
}

func (s *Session) dropStaleSelectionLocked() {
	if s.selection == nil {
		return
	}
	if _, _, ok := s.tl.Find(s.selection.Track, s.selection.ClipID); !ok {
		s.selection = nil
	}
}

func (s *Session) viewLocked() View {
	tracks := s.tl.Snapshot()
	durations := make(map[timeline.TrackKind]float64, len(timeline.TrackKinds))
	for _, k := range timeline.TrackKinds {
		durations[k] = tracks.TrackDuration(k)
	}
	v := View{
		Tracks:         tracks,
		TrackDurations: durations,
		TotalDuration:  tracks.TotalDuration(),
		Playback:       s.clock.State(),
		Overlay:        s.lastReport.Overlay,
		Video:          s.lastReport.Video,
		Audio:          s.lastReport.Audio,
		Generation:     s.syncer.Generation(),
	}
	if s.selection != nil {
		sel := *s.selection
		v.Selection = &sel
	}
	return v
}

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Tracks returns a copy of the timeline.
func (s *Session) Tracks() timeline.Tracks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.Snapshot()
}

func (s *Session) resolve(ctx context.Context, assetID string) (timeline.SourceRef, error) {
	if s.cfg.Sources == nil {
		return timeline.SourceRef{}, fmt.Errorf("no asset library configured")
	}
	src, ok, err := s.cfg.Sources.Source(ctx, assetID)
	if err != nil {
		return timeline.SourceRef{}, err
	}
	if !ok {
		return timeline.SourceRef{}, timeline.Stale("insert", "asset "+assetID+" is no longer in the library")
	}
	return src, nil
}

// InsertAsset places an asset on a media track at index. A negative index
// appends.
func (s *Session) InsertAsset(ctx context.Context, assetID string, track timeline.TrackKind, index int) (timeline.Clip, View, error) {
	src, err := s.resolve(ctx, assetID)
	if err != nil {
		return timeline.Clip{}, s.View(), err
	}
	var clip timeline.Clip
	v, err := s.do("insert", true, func() error {
		var err error
		clip, err = s.editor.InsertFromAsset(src, track, index)
		return err
	})
	return clip, v, err
}

// InsertAssetBoth places an asset on the video and audio tracks at index.
func (s *Session) InsertAssetBoth(ctx context.Context, assetID string, index int) ([]timeline.Clip, View, error) {
	src, err := s.resolve(ctx, assetID)
	if err != nil {
		return nil, s.View(), err
	}
	var clips []timeline.Clip
	v, err := s.do("insert", true, func() error {
		var err error
		clips, err = s.insertBothLocked(src, index, index)
		return err
	})
	return clips, v, err
}

func (s *Session) insertBothLocked(src timeline.SourceRef, videoIndex, audioIndex int) ([]timeline.Clip, error) {
	video, err := s.editor.InsertFromAsset(src, timeline.TrackVideo, videoIndex)
	if err != nil {
		return nil, err
	}
	audio, err := s.editor.InsertFromAsset(src, timeline.TrackAudio, audioIndex)
	if err != nil {
		if _, rerr := s.tl.Remove(timeline.TrackVideo, video.ID); rerr != nil {
			s.logger.Error("failed to roll back video clip", "clip_id", video.ID, "error", rerr)
		}
		return nil, err
	}
	return []timeline.Clip{video, audio}, nil
}

// DropAsset inserts an asset at the slot under pointerTime. A shell drop
// lands on both media tracks at the slot computed on the video track.
func (s *Session) DropAsset(ctx context.Context, assetID string, track timeline.TrackKind, pointerTime float64, shell bool) ([]timeline.Clip, View, error) {
	if track == timeline.TrackText {
		return nil, s.View(), s.editor.CheckMove(timeline.TrackVideo, timeline.TrackText)
	}
	src, err := s.resolve(ctx, assetID)
	if err != nil {
		return nil, s.View(), err
	}
	var clips []timeline.Clip
	v, err := s.do("drop", true, func() error {
		if shell {
			index := timeline.InsertionIndex(s.tl.Clips(timeline.TrackVideo), pointerTime)
			var err error
			clips, err = s.insertBothLocked(src, index, index)
			return err
		}
		index := timeline.InsertionIndex(s.tl.Clips(track), pointerTime)
		clip, err := s.editor.InsertFromAsset(src, track, index)
		if err != nil {
			return err
		}
		clips = []timeline.Clip{clip}
		return nil
	})
	return clips, v, err
}

// AddText appends a text overlay.
func (s *Session) AddText(spec timeline.TextSpec) (timeline.Clip, View, error) {
	var clip timeline.Clip
	v, err := s.do("text", true, func() error {
		var err error
		clip, err = s.editor.InsertText(spec)
		return err
	})
	return clip, v, err
}

// Select marks a clip as the edit target.
func (s *Session) Select(track timeline.TrackKind, clipID string) (View, error) {
	return s.do("select", false, func() error {
		if _, _, ok := s.tl.Find(track, clipID); !ok {
			return timeline.Stale("select", "clip "+clipID+" is no longer on the "+string(track)+" track")
		}
		s.selection = &Selection{Track: track, ClipID: clipID}
		return nil
	})
}

func (s *Session) ClearSelection() View {
	v, _ := s.do("select", false, func() error {
		s.selection = nil
		return nil
	})
	return v
}

// Split cuts the selected clip at the cursor and selects the first half.
func (s *Session) Split() ([]timeline.Clip, View, error) {
	var clips []timeline.Clip
	v, err := s.do("split", true, func() error {
		if s.selection == nil {
			return timeline.InvalidOperation("split", "Select a clip to split.")
		}
		sel := *s.selection
		first, second, err := s.editor.Split(sel.Track, sel.ClipID, s.clock.Time())
		if err != nil {
			return err
		}
		clips = []timeline.Clip{first, second}
		s.selection = &Selection{Track: sel.Track, ClipID: first.ID}
		return nil
	})
	return clips, v, err
}

// RemoveSelected deletes the selected clip and clears the selection.
func (s *Session) RemoveSelected() (timeline.Clip, View, error) {
	var removed timeline.Clip
	v, err := s.do("remove", true, func() error {
		if s.selection == nil {
			return timeline.InvalidOperation("remove", "Select a clip to remove.")
		}
		sel := *s.selection
		clip, err := s.editor.Remove(sel.Track, sel.ClipID)
		if err != nil {
			return err
		}
		removed = clip
		s.selection = nil
		return nil
	})
	return removed, v, err
}

// MoveClip moves a clip to index on track to. A negative index appends.
func (s *Session) MoveClip(clipID string, from, to timeline.TrackKind, index int) (timeline.Clip, View, error) {
	var moved timeline.Clip
	v, err := s.do("move", true, func() error {
		clip, err := s.editor.Move(clipID, from, to, index)
		if err != nil {
			return err
		}
		moved = clip
		s.followSelectionLocked(clip.ID, to)
		return nil
	})
	return moved, v, err
}

// DropClip moves a clip to the slot under pointerTime on track to.
func (s *Session) DropClip(clipID string, from, to timeline.TrackKind, pointerTime float64) (timeline.Clip, View, error) {
	var moved timeline.Clip
	v, err := s.do("move", true, func() error {
		clip, err := s.editor.MoveToTime(clipID, from, to, pointerTime)
		if err != nil {
			return err
		}
		moved = clip
		s.followSelectionLocked(clip.ID, to)
		return nil
	})
	return moved, v, err
}

func (s *Session) followSelectionLocked(clipID string, track timeline.TrackKind) {
	if s.selection != nil && s.selection.ClipID == clipID {
		s.selection.Track = track
	}
}

// Seek moves the cursor and selects the clip under it.
func (s *Session) Seek(t float64) View {
	v, _ := s.do("seek", true, func() error {
		s.seekLocked(t)
		return nil
	})
	return v
}

// Step seeks relative to the cursor.
func (s *Session) Step(delta float64) View {
	v, _ := s.do("seek", true, func() error {
		s.seekLocked(s.clock.Time() + delta)
		return nil
	})
	return v
}

func (s *Session) seekLocked(t float64) {
	at := s.clock.Seek(t)
	if track, loc, ok := s.tl.Snapshot().ClipAt(at); ok {
		s.selection = &Selection{Track: track, ClipID: loc.Clip.ID}
	}
}

// Play starts playback. An empty timeline cannot play.
func (s *Session) Play() (View, error) {
	return s.do("play", false, s.playLocked)
}

func (s *Session) playLocked() error {
	if !s.clock.Play() {
		return timeline.InvalidOperation("play", "Timeline is empty; nothing to play.")
	}
	s.syncer.Invalidate()
	return nil
}

func (s *Session) Pause() View {
	v, _ := s.do("pause", false, func() error {
		s.pauseLocked()
		return nil
	})
	return v
}

func (s *Session) pauseLocked() {
	s.clock.Pause()
	s.syncer.Invalidate()
}

// Toggle pauses a playing session and plays a paused one.
func (s *Session) Toggle() (View, error) {
	return s.doAs(false, func() (string, error) {
		if s.clock.Playing() {
			s.pauseLocked()
			return "pause", nil
		}
		return "play", s.playLocked()
	})
}

// SetRate changes the playback rate and forwards it to capable sinks.
func (s *Session) SetRate(rate float64) (View, error) {
	return s.do("rate", false, func() error {
		if err := s.clock.SetRate(rate); err != nil {
			return err
		}
		s.syncer.SetRate(rate)
		return nil
	})
}

// Tick advances the clock to wall time now. Nothing happens while paused.
func (s *Session) Tick(now time.Time) playback.TickResult {
	return s.advance("tick", func() playback.TickResult { return s.clock.Tick(now) })
}

// Advance moves the clock by delta, for schedulers that measure their own
// intervals.
func (s *Session) Advance(delta time.Duration) playback.TickResult {
	return s.advance("tick", func() playback.TickResult { return s.clock.Advance(delta) })
}

func (s *Session) advance(reason string, step func() playback.TickResult) playback.TickResult {
	s.mu.Lock()
	if !s.clock.Playing() {
		res := playback.TickResult{Time: s.clock.Time()}
		s.mu.Unlock()
		return res
	}
	res := step()
	force := false
	if res.Ended {
		reason = "ended"
		force = true
	}
	ev := s.settleLocked(reason, force)
	s.mu.Unlock()
	s.emit(ev)
	return res
}

// SinkReady completes a parked seek once a sink has buffered sourceRef.
func (s *Session) SinkReady(track timeline.TrackKind, sourceRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncer.SinkReady(track, sourceRef)
}

// Resync forces every sink back onto the cursor, for example after a client
// reconnects.
func (s *Session) Resync() View {
	v, _ := s.do("resync", true, func() error {
		s.syncer.Reset()
		return nil
	})
	return v
}

// DecisionList exports the timeline for rendering.
func (s *Session) DecisionList(now time.Time) (export.DecisionList, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := s.tl.Snapshot()
	return export.BuildDecisionList(tracks, now), tracks.TotalDuration()
}

// Clear empties the timeline and rewinds. The playback rate is kept.
func (s *Session) Clear() View {
	v, _ := s.do("clear", true, func() error {
		s.clock.Pause()
		s.tl.Reset()
		s.clock.Seek(0)
		s.selection = nil
		return nil
	})
	return v
}

// Reset returns the session to its freshly created state.
func (s *Session) Reset() View {
	v, _ := s.do("reset", true, func() error {
		s.tl.Reset()
		s.clock.Reset()
		s.syncer.Reset()
		s.syncer.SetRate(1)
		s.selection = nil
		return nil
	})
	return v
}

// Run drives the clock until ctx ends. Intervals above MaxTickInterval are
// capped.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if interval > MaxTickInterval {
		interval = MaxTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
