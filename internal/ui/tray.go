package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/getlantern/systray"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/session"
)

//go:embed icon.png
var iconBytes []byte

type Tray struct {
	session *session.Session
	runner  *catalog.Runner
	logger  *slog.Logger

	statusItem *systray.MenuItem
	clipsItem  *systray.MenuItem
	playItem   *systray.MenuItem
	probeItem  *systray.MenuItem

	mu    sync.Mutex
	ready bool
	last  trayState

	onQuit func()
}

type TrayConfig struct {
	Session *session.Session
	Runner  *catalog.Runner
	Logger  *slog.Logger
	OnQuit  func()
}

// trayState is what the menu currently shows. Ticks that do not change it
// skip the menu update.
type trayState struct {
	status  string
	clips   string
	playing bool
}

func NewTray(cfg TrayConfig) *Tray {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tray{
		session: cfg.Session,
		runner:  cfg.Runner,
		logger:  logger,
		onQuit:  cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Clipdeck")
	systray.SetTooltip("Clipdeck Agent")

	t.statusItem = systray.AddMenuItem("Stopped", "Playback position")
	t.statusItem.Disable()

	t.clipsItem = systray.AddMenuItem("Clips: 0", "Clips on the timeline")
	t.clipsItem.Disable()

	systray.AddSeparator()

	t.playItem = systray.AddMenuItem("Play", "Toggle playback")
	t.probeItem = systray.AddMenuItem("Pause Probing", "Pause media probing")
	clearItem := systray.AddMenuItem("Clear Timeline", "Remove every clip")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Clipdeck Agent")

	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()

	if t.session != nil {
		t.session.Subscribe(func(ev session.StateEvent) { t.render(ev.View) })
		t.render(t.session.View())
	}

	go func() {
		for {
			select {
			case <-t.playItem.ClickedCh:
				if t.session == nil {
					continue
				}
				if _, err := t.session.Toggle(); err != nil {
					t.logger.Info("play refused from tray", "error", err)
				}
			case <-t.probeItem.ClickedCh:
				t.toggleProbing()
			case <-clearItem.ClickedCh:
				if t.session != nil {
					t.session.Clear()
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) toggleProbing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.probeItem.SetTitle("Pause Probing")
	} else {
		t.runner.Pause()
		t.probeItem.SetTitle("Resume Probing")
	}
}

func (t *Tray) render(v session.View) {
	next := stateFor(v)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || next == t.last {
		return
	}
	t.statusItem.SetTitle(next.status)
	t.clipsItem.SetTitle(next.clips)
	if next.playing {
		t.playItem.SetTitle("Pause")
	} else {
		t.playItem.SetTitle("Play")
	}
	t.last = next
}

func stateFor(v session.View) trayState {
	clips := len(v.Tracks.Video) + len(v.Tracks.Audio) + len(v.Tracks.Text)

	status := "Stopped"
	switch {
	case v.Playback.Playing:
		status = fmt.Sprintf("Playing %s / %s", clockLabel(v.Playback.Time), clockLabel(v.TotalDuration))
	case v.Playback.Time > 0:
		status = fmt.Sprintf("Paused %s / %s", clockLabel(v.Playback.Time), clockLabel(v.TotalDuration))
	}
	return trayState{
		status:  status,
		clips:   fmt.Sprintf("Clips: %d", clips),
		playing: v.Playback.Playing,
	}
}

// clockLabel formats seconds as m:ss, truncated to whole seconds.
func clockLabel(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func (t *Tray) Quit() {
	systray.Quit()
}
