// Package watcher imports media dropped into a folder on disk.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
// Copies into the folder produce a burst of writes.
const DefaultDebounce = 750 * time.Millisecond

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// FSWatcher watches a single directory (non-recursive) with fsnotify and
// debounces create and write bursts per file.
type FSWatcher struct {
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	callback func(path string, event EventType)
	pending  map[string]*time.Timer
	created  map[string]bool
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

func NewFSWatcher(debounce time.Duration, logger *slog.Logger) *FSWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSWatcher{
		logger:   logger,
		debounce: debounce,
		pending:  make(map[string]*time.Timer),
		created:  make(map[string]bool),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch starts watching path and returns once the watch is registered.
// Files already present are reported as EventCreate. Events stop when ctx
// is cancelled or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot watch %s: not a directory", path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("watcher already running")
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.logger.Info("watching import folder", "path", path)

	entries, err := os.ReadDir(path)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				w.schedule(filepath.Join(path, e.Name()), EventCreate)
			}
		}
	}

	go w.loop(ctx, fsw, done)
	return nil
}

func (w *FSWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		w.schedule(event.Name, EventCreate)
	case event.Has(fsnotify.Write):
		w.schedule(event.Name, EventModify)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[event.Name]; ok {
			t.Stop()
			delete(w.pending, event.Name)
			delete(w.created, event.Name)
		}
		cb := w.callback
		w.mu.Unlock()
		if cb != nil {
			cb(event.Name, EventDelete)
		}
	}
}

// schedule (re)arms the debounce timer for path. A create followed by
// writes inside the window is reported once as a create.
func (w *FSWatcher) schedule(path string, kind EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if kind == EventCreate {
		w.created[path] = true
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ev := EventModify
		if w.created[path] {
			ev = EventCreate
			delete(w.created, path)
		}
		cb := w.callback
		w.mu.Unlock()
		if cb != nil {
			cb(path, ev)
		}
	})
}

func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	close(w.done)
	err := w.fsw.Close()
	w.fsw = nil
	return err
}

// FileImporter is the part of the catalog the watcher feeds.
type FileImporter interface {
	ImportFile(ctx context.Context, path string) (*catalog.Asset, bool, error)
}

// ImportHandler returns an OnChange callback that imports created or
// modified media files. Deletions and non-media files are ignored; assets
// already in the library stay until removed through the API.
func ImportHandler(ctx context.Context, importer FileImporter, logger *slog.Logger) func(string, EventType) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(path string, event EventType) {
		if event == EventDelete || !catalog.IsMediaFile(path) {
			return
		}
		asset, created, err := importer.ImportFile(ctx, path)
		if err != nil {
			logger.Warn("import failed", "path", path, "event", event.String(), "error", err)
			return
		}
		if created {
			logger.Info("imported media", "asset_id", asset.ID, "name", asset.Name)
		}
	}
}
