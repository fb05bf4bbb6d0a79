package live

import (
	"sync"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/mediasync"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

// URLFunc turns a source reference into a URL the client can load.
type URLFunc func(sourceRef string) string

// RemoteSink is a media element living in a connected client. Commands are
// broadcast as directives and the local state is updated optimistically;
// client reports then correct it.
type RemoteSink struct {
	track timeline.TrackKind
	out   Broadcaster
	url   URLFunc
	now   func() time.Time

	mu        sync.Mutex
	loaded    string
	ready     mediasync.ReadyState
	position  float64
	playing   bool
	rate      float64
	updatedAt time.Time
}

func NewRemoteSink(track timeline.TrackKind, out Broadcaster, url URLFunc) *RemoteSink {
	return &RemoteSink{track: track, out: out, url: url, now: time.Now, rate: 1}
}

func (s *RemoteSink) Track() timeline.TrackKind { return s.track }

func (s *RemoteSink) send(d Directive) error {
	d.Track = s.track
	msg, err := NewMessage(MsgDirective, d)
	if err != nil {
		return err
	}
	s.out.Broadcast(msg)
	return nil
}

func (s *RemoteSink) Load(sourceRef string) error {
	s.mu.Lock()
	s.loaded = sourceRef
	s.ready = mediasync.HaveNothing
	s.position = 0
	s.playing = false
	s.updatedAt = s.now()
	s.mu.Unlock()

	d := Directive{Op: OpLoad, Source: sourceRef}
	if s.url != nil {
		d.URL = s.url(sourceRef)
	}
	return s.send(d)
}

func (s *RemoteSink) Unload() error {
	s.mu.Lock()
	s.loaded = ""
	s.ready = mediasync.HaveNothing
	s.position = 0
	s.playing = false
	s.mu.Unlock()
	return s.send(Directive{Op: OpUnload})
}

func (s *RemoteSink) Seek(localTime float64) error {
	s.mu.Lock()
	s.position = localTime
	s.updatedAt = s.now()
	s.mu.Unlock()
	return s.send(Directive{Op: OpSeek, Time: localTime})
}

func (s *RemoteSink) Play() error {
	s.mu.Lock()
	s.position = s.positionLocked()
	s.updatedAt = s.now()
	s.playing = true
	s.mu.Unlock()
	return s.send(Directive{Op: OpPlay})
}

func (s *RemoteSink) Pause() error {
	s.mu.Lock()
	s.position = s.positionLocked()
	s.updatedAt = s.now()
	s.playing = false
	s.mu.Unlock()
	return s.send(Directive{Op: OpPause})
}

func (s *RemoteSink) SetRate(rate float64) error {
	s.mu.Lock()
	s.position = s.positionLocked()
	s.updatedAt = s.now()
	s.rate = rate
	s.mu.Unlock()
	return s.send(Directive{Op: OpRate, Rate: rate})
}

// CurrentPosition extrapolates from the last known position while playing.
func (s *RemoteSink) CurrentPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked()
}

func (s *RemoteSink) positionLocked() float64 {
	if !s.playing || s.ready < mediasync.HaveCurrentData {
		return s.position
	}
	return s.position + s.now().Sub(s.updatedAt).Seconds()*s.rate
}

// Reset forgets the client-side state, so the next sync loads the current
// source again. A client that just connected has nothing loaded.
func (s *RemoteSink) Reset() {
	s.mu.Lock()
	s.loaded = ""
	s.ready = mediasync.HaveNothing
	s.position = 0
	s.playing = false
	s.updatedAt = s.now()
	s.mu.Unlock()
}

func (s *RemoteSink) LoadedSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *RemoteSink) ReadyState() mediasync.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Apply folds a client report into the sink. It reports whether the loaded
// source just became presentable, in which case the caller should complete
// any parked seek. Reports for a source other than the loaded one are ignored.
func (s *RemoteSink) Apply(r SinkReport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.LoadedSource != s.loaded {
		return false
	}
	wasReady := s.ready >= mediasync.HaveCurrentData
	s.ready = r.ReadyState
	s.position = r.Position
	s.playing = !r.Paused
	s.updatedAt = s.now()
	return !wasReady && s.ready >= mediasync.HaveCurrentData
}

// RemoteOverlay draws text overlays in connected clients.
type RemoteOverlay struct {
	out Broadcaster

	mu      sync.Mutex
	current *mediasync.Overlay
}

func NewRemoteOverlay(out Broadcaster) *RemoteOverlay {
	return &RemoteOverlay{out: out}
}

func (o *RemoteOverlay) Show(ov mediasync.Overlay) error {
	o.mu.Lock()
	o.current = &ov
	o.mu.Unlock()
	msg, err := NewMessage(MsgDirective, Directive{Track: timeline.TrackText, Op: OpShow, Overlay: &ov})
	if err != nil {
		return err
	}
	o.out.Broadcast(msg)
	return nil
}

func (o *RemoteOverlay) Hide() error {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
	msg, err := NewMessage(MsgDirective, Directive{Track: timeline.TrackText, Op: OpHide})
	if err != nil {
		return err
	}
	o.out.Broadcast(msg)
	return nil
}

// Current is the overlay last shown, or nil.
func (o *RemoteOverlay) Current() *mediasync.Overlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	ov := *o.current
	return &ov
}

// Sinks groups the remote outputs of one presentation surface.
type Sinks struct {
	Video   *RemoteSink
	Audio   *RemoteSink
	Overlay *RemoteOverlay
}

func NewSinks(out Broadcaster, url URLFunc) *Sinks {
	return &Sinks{
		Video:   NewRemoteSink(timeline.TrackVideo, out, url),
		Audio:   NewRemoteSink(timeline.TrackAudio, out, url),
		Overlay: NewRemoteOverlay(out),
	}
}

// Reset clears what is known about the clients' media elements and overlay.
// Follow it with a forced sync to bring clients back onto the cursor.
func (s *Sinks) Reset() {
	s.Video.Reset()
	s.Audio.Reset()
	s.Overlay.mu.Lock()
	s.Overlay.current = nil
	s.Overlay.mu.Unlock()
}

// Apply routes a report to its sink. It returns the source that just became
// ready, or "" when nothing is waiting on this report.
func (s *Sinks) Apply(r SinkReport) string {
	var sink *RemoteSink
	switch r.Track {
	case timeline.TrackVideo:
		sink = s.Video
	case timeline.TrackAudio:
		sink = s.Audio
	default:
		return ""
	}
	if sink.Apply(r) {
		return r.LoadedSource
	}
	return ""
}
