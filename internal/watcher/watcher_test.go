package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
)

type recorded struct {
	path  string
	event EventType
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
	ch     chan recorded
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan recorded, 16)}
}

func (r *recorder) fn(path string, event EventType) {
	r.mu.Lock()
	r.events = append(r.events, recorded{path, event})
	r.mu.Unlock()
	r.ch <- recorded{path, event}
}

func (r *recorder) wait(t *testing.T) recorded {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
	return recorded{}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFSWatcher_ReportsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.mp4")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewFSWatcher(20*time.Millisecond, quietLogger())
	rec := newRecorder()
	w.OnChange(rec.fn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx, dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ev := rec.wait(t)
	if ev.path != existing || ev.event != EventCreate {
		t.Fatalf("first event = %+v", ev)
	}

	added := filepath.Join(dir, "new.mov")
	if err := os.WriteFile(added, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	ev = rec.wait(t)
	if ev.path != added || ev.event != EventCreate {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestFSWatcher_DebouncesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWatcher(200*time.Millisecond, quietLogger())
	rec := newRecorder()
	w.OnChange(rec.fn)
	if err := w.Watch(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "clip.mp4")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f.Write([]byte("chunk"))
	}
	f.Close()

	ev := rec.wait(t)
	if ev.path != path || ev.event != EventCreate {
		t.Fatalf("event = %+v", ev)
	}
	time.Sleep(400 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Errorf("events = %+v, want a single create", rec.events)
	}
}

func TestFSWatcher_Errors(t *testing.T) {
	w := NewFSWatcher(0, quietLogger())
	if err := w.Watch(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing dir")
	}

	file := filepath.Join(t.TempDir(), "f.mp4")
	os.WriteFile(file, nil, 0o644)
	if err := w.Watch(context.Background(), file); err == nil {
		t.Error("expected error for non-directory")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop on idle watcher = %v", err)
	}
}

func TestFSWatcher_StopsOnCancel(t *testing.T) {
	w := NewFSWatcher(10*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Watch(ctx, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		stopped := w.fsw == nil
		w.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher still running after cancel")
}

type fakeImporter struct {
	paths []string
	err   error
}

func (f *fakeImporter) ImportFile(ctx context.Context, path string) (*catalog.Asset, bool, error) {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, false, f.err
	}
	return &catalog.Asset{ID: "a1", Name: filepath.Base(path)}, true, nil
}

func TestImportHandler(t *testing.T) {
	imp := &fakeImporter{}
	handle := ImportHandler(context.Background(), imp, quietLogger())

	handle("/in/clip.mp4", EventCreate)
	handle("/in/clip.mp4", EventModify)
	handle("/in/notes.txt", EventCreate)
	handle("/in/gone.mp4", EventDelete)

	if len(imp.paths) != 2 || imp.paths[0] != "/in/clip.mp4" {
		t.Errorf("imported = %q", imp.paths)
	}

	imp.err = errors.New("disk full")
	handle("/in/other.wav", EventCreate)
	if len(imp.paths) != 3 {
		t.Errorf("failing import should still be attempted, got %q", imp.paths)
	}
}
