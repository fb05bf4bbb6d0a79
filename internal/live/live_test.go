package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipdeck/clipdeck-agent/internal/mediasync"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Broadcast(msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) directives(t *testing.T) []Directive {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Directive
	for _, m := range r.msgs {
		if m.Type != MsgDirective {
			continue
		}
		var d Directive
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("decode directive: %v", err)
		}
		out = append(out, d)
	}
	return out
}

func TestRemoteSink_LoadAndReady(t *testing.T) {
	rec := &recorder{}
	sink := NewRemoteSink(timeline.TrackVideo, rec, func(ref string) string { return "/assets/" + ref + "/media" })

	if err := sink.Load("F1"); err != nil {
		t.Fatal(err)
	}
	if sink.LoadedSource() != "F1" || sink.ReadyState() != mediasync.HaveNothing {
		t.Fatalf("after load: source=%q ready=%v", sink.LoadedSource(), sink.ReadyState())
	}

	ds := rec.directives(t)
	if len(ds) != 1 || ds[0].Op != OpLoad || ds[0].URL != "/assets/F1/media" || ds[0].Track != timeline.TrackVideo {
		t.Fatalf("directives = %+v", ds)
	}

	if sink.Apply(SinkReport{Track: timeline.TrackVideo, LoadedSource: "F0", ReadyState: mediasync.HaveEnoughData}) {
		t.Error("report for another source should be ignored")
	}
	if !sink.Apply(SinkReport{Track: timeline.TrackVideo, LoadedSource: "F1", ReadyState: mediasync.HaveCurrentData, Position: 1.5, Paused: true}) {
		t.Error("first ready report should signal readiness")
	}
	if sink.Apply(SinkReport{Track: timeline.TrackVideo, LoadedSource: "F1", ReadyState: mediasync.HaveEnoughData, Position: 1.6, Paused: true}) {
		t.Error("already ready sink should not signal again")
	}
	if got := sink.CurrentPosition(); got != 1.6 {
		t.Errorf("CurrentPosition() = %v, want 1.6", got)
	}
}

func TestRemoteSink_PositionExtrapolates(t *testing.T) {
	rec := &recorder{}
	sink := NewRemoteSink(timeline.TrackAudio, rec, nil)
	now := time.Unix(1000, 0)
	sink.now = func() time.Time { return now }

	sink.Load("A")
	sink.Apply(SinkReport{Track: timeline.TrackAudio, LoadedSource: "A", ReadyState: mediasync.HaveEnoughData, Position: 2})
	sink.SetRate(2)

	now = now.Add(500 * time.Millisecond)
	if got := sink.CurrentPosition(); got != 3 {
		t.Errorf("CurrentPosition() = %v, want 3", got)
	}

	sink.Pause()
	now = now.Add(time.Second)
	if got := sink.CurrentPosition(); got != 3 {
		t.Errorf("paused CurrentPosition() = %v, want 3", got)
	}
}

func TestRemoteSink_Unload(t *testing.T) {
	rec := &recorder{}
	sink := NewRemoteSink(timeline.TrackVideo, rec, nil)
	sink.Load("F1")
	sink.Unload()

	if sink.LoadedSource() != "" {
		t.Errorf("LoadedSource() = %q after unload", sink.LoadedSource())
	}
	ds := rec.directives(t)
	if ds[len(ds)-1].Op != OpUnload {
		t.Errorf("last directive = %+v", ds[len(ds)-1])
	}
}

func TestRemoteOverlay(t *testing.T) {
	rec := &recorder{}
	ov := NewRemoteOverlay(rec)

	ov.Show(mediasync.Overlay{ClipID: "t1", Text: "Hello", StackOrder: 3})
	if cur := ov.Current(); cur == nil || cur.Text != "Hello" {
		t.Fatalf("Current() = %+v", cur)
	}
	ov.Hide()
	if ov.Current() != nil {
		t.Error("Current() should be nil after Hide")
	}

	ds := rec.directives(t)
	if len(ds) != 2 || ds[0].Op != OpShow || ds[0].Overlay.StackOrder != 3 || ds[1].Op != OpHide {
		t.Errorf("directives = %+v", ds)
	}
}

func TestSinks_ApplyRoutesByTrack(t *testing.T) {
	sinks := NewSinks(&recorder{}, nil)
	sinks.Audio.Load("A1")

	if got := sinks.Apply(SinkReport{Track: timeline.TrackVideo, LoadedSource: "A1", ReadyState: mediasync.HaveEnoughData}); got != "" {
		t.Errorf("video report should not complete an audio load, got %q", got)
	}
	if got := sinks.Apply(SinkReport{Track: timeline.TrackAudio, LoadedSource: "A1", ReadyState: mediasync.HaveEnoughData}); got != "A1" {
		t.Errorf("Apply() = %q, want A1", got)
	}
	if got := sinks.Apply(SinkReport{Track: timeline.TrackText}); got != "" {
		t.Errorf("text report = %q", got)
	}
}

func TestHub_BroadcastAndReports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	reports := make(chan SinkReport, 1)
	hub.SetHandlers(Handlers{
		OnReport: func(r SinkReport) { reports <- r },
		OnConnect: func() []Message {
			msg, _ := NewMessage(MsgState, map[string]any{"time": 1.5})
			return []Message{msg}
		},
	})
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read catch-up: %v", err)
	}
	if first.Type != MsgState {
		t.Fatalf("first message type = %s, want state", first.Type)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(MsgDirective, Directive{Track: timeline.TrackVideo, Op: OpPlay})

	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if got.Type != MsgDirective {
		t.Fatalf("broadcast type = %s", got.Type)
	}

	report, _ := NewMessage(MsgSinkReport, SinkReport{Track: timeline.TrackAudio, LoadedSource: "A1", ReadyState: mediasync.HaveEnoughData})
	if err := conn.WriteJSON(report); err != nil {
		t.Fatalf("write report: %v", err)
	}

	select {
	case r := <-reports:
		if r.Track != timeline.TrackAudio || r.LoadedSource != "A1" {
			t.Errorf("report = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("report not delivered")
	}
}

func TestSinks_ResetForgetsClientState(t *testing.T) {
	sinks := NewSinks(&recorder{}, nil)
	sinks.Video.Load("F1")
	sinks.Video.Apply(SinkReport{Track: timeline.TrackVideo, LoadedSource: "F1", ReadyState: mediasync.HaveEnoughData, Position: 4})
	sinks.Overlay.Show(mediasync.Overlay{ClipID: "t1", Text: "Hi"})

	sinks.Reset()

	if sinks.Video.LoadedSource() != "" || sinks.Video.ReadyState() != mediasync.HaveNothing || sinks.Video.CurrentPosition() != 0 {
		t.Errorf("video after reset: source=%q ready=%v pos=%v", sinks.Video.LoadedSource(), sinks.Video.ReadyState(), sinks.Video.CurrentPosition())
	}
	if sinks.Overlay.Current() != nil {
		t.Error("overlay should be cleared")
	}
}

// readUntil reads messages until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(Message) bool) []Message {
	t.Helper()
	var seen []Message
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v (received %d messages)", what, err, len(seen))
		}
		seen = append(seen, msg)
		if match(msg) {
			return seen
		}
	}
}

func isDirective(t *testing.T, track timeline.TrackKind, op DirectiveOp, source string) func(Message) bool {
	return func(m Message) bool {
		if m.Type != MsgDirective {
			return false
		}
		var d Directive
		if err := json.Unmarshal(m.Data, &d); err != nil {
			t.Fatalf("decode directive: %v", err)
		}
		return d.Track == track && d.Op == op && (source == "" || d.Source == source)
	}
}

func TestHub_LateClientLoadsCurrentMedia(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(func(r *http.Request) bool { return true }, nil)
	go hub.Run(ctx)

	sinks := NewSinks(hub, func(ref string) string { return "/assets/" + ref + "/media" })
	syncer := mediasync.New(mediasync.Config{Video: sinks.Video, Audio: sinks.Audio, Text: sinks.Overlay})

	tl := timeline.New()
	ten := 10.0
	if _, err := timeline.NewEditor(tl).InsertFromAsset(timeline.SourceRef{ID: "F1", Name: "f1.mp4", Duration: &ten}, timeline.TrackVideo, -1); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	resync := func() {
		mu.Lock()
		defer mu.Unlock()
		syncer.Reset()
		syncer.Sync(tl.Snapshot(), 2, false, true)
	}
	hub.SetHandlers(Handlers{
		OnReport: func(r SinkReport) {
			if src := sinks.Apply(r); src != "" {
				mu.Lock()
				syncer.SinkReady(r.Track, src)
				mu.Unlock()
			}
		},
		OnConnect: func() []Message {
			sinks.Reset()
			resync()
			msg, _ := NewMessage(MsgState, map[string]any{"time": 2})
			return []Message{msg}
		},
	})

	// Load the clip while nobody is listening.
	resync()
	deadline := time.Now().Add(5 * time.Second)
	for len(hub.broadcast) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, "video load", isDirective(t, timeline.TrackVideo, OpLoad, "F1"))

	report, _ := NewMessage(MsgSinkReport, SinkReport{Track: timeline.TrackVideo, LoadedSource: "F1", ReadyState: mediasync.HaveEnoughData, Paused: true})
	if err := conn.WriteJSON(report); err != nil {
		t.Fatalf("write report: %v", err)
	}

	readUntil(t, conn, "video seek", isDirective(t, timeline.TrackVideo, OpSeek, ""))
	if got := sinks.Video.CurrentPosition(); got != 2 {
		t.Errorf("video position = %v, want 2", got)
	}
}
