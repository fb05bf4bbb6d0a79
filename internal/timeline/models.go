// Package timeline holds the three-track clip store, the time mapping between
// global timeline time and clip-local time, and the edit operations that
// mutate tracks while keeping them gapless.
package timeline

import (
	"fmt"
	"strings"
)

// TrackKind identifies one of the three fixed tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
	TrackText  TrackKind = "text"
)

// TrackKinds lists the tracks in lookup priority order.
var TrackKinds = []TrackKind{TrackVideo, TrackAudio, TrackText}

// ParseTrack converts a wire value into a TrackKind.
func ParseTrack(s string) (TrackKind, error) {
	switch TrackKind(strings.ToLower(strings.TrimSpace(s))) {
	case TrackVideo:
		return TrackVideo, nil
	case TrackAudio:
		return TrackAudio, nil
	case TrackText:
		return TrackText, nil
	}
	return "", fmt.Errorf("unknown track %q", s)
}

// IsMedia reports whether the track carries media clips (video or audio).
func (k TrackKind) IsMedia() bool {
	return k == TrackVideo || k == TrackAudio
}

// Valid reports whether k is one of the three tracks.
func (k TrackKind) Valid() bool {
	return k == TrackVideo || k == TrackAudio || k == TrackText
}

// Default clip colours.
const (
	TextColor  = "#c4b5fd"
	AudioColor = "#1f5a47"
)

// Palette is cycled by track length when media clips are placed.
var Palette = []string{"#5cf4be", "#f4a261", "#7dd3fc", "#f472b6", "#bef264", "#c084fc"}

// Clip is a placement of a source region (or a text overlay) on a track.
// Start and End are local in/out points in source seconds; the clip's
// position on the timeline is derived from the clips before it.
type Clip struct {
	ID       string    `json:"id"`
	Type     TrackKind `json:"type"`
	SourceID string    `json:"source_id,omitempty"`
	Start    float64   `json:"start"`
	End      float64   `json:"end"`
	Text     string    `json:"text,omitempty"`
	Font     string    `json:"font,omitempty"`
	Color    string    `json:"color,omitempty"`
	Layer    int       `json:"layer"`
	Label    string    `json:"label"`
}

// Duration returns the clip's length, never negative.
func (c Clip) Duration() float64 {
	if c.End <= c.Start {
		return 0
	}
	return c.End - c.Start
}

// Tracks is a value snapshot of the three tracks.
type Tracks struct {
	Video []Clip `json:"video"`
	Audio []Clip `json:"audio"`
	Text  []Clip `json:"text"`
}

// Track returns the clips of one track. Unknown kinds yield nil.
func (ts Tracks) Track(kind TrackKind) []Clip {
	switch kind {
	case TrackVideo:
		return ts.Video
	case TrackAudio:
		return ts.Audio
	case TrackText:
		return ts.Text
	}
	return nil
}

func (ts *Tracks) set(kind TrackKind, clips []Clip) {
	switch kind {
	case TrackVideo:
		ts.Video = clips
	case TrackAudio:
		ts.Audio = clips
	case TrackText:
		ts.Text = clips
	}
}

// Clone returns a deep copy.
func (ts Tracks) Clone() Tracks {
	return Tracks{
		Video: cloneClips(ts.Video),
		Audio: cloneClips(ts.Audio),
		Text:  cloneClips(ts.Text),
	}
}

// Empty reports whether no track holds a clip.
func (ts Tracks) Empty() bool {
	return len(ts.Video) == 0 && len(ts.Audio) == 0 && len(ts.Text) == 0
}

func cloneClips(clips []Clip) []Clip {
	out := make([]Clip, len(clips))
	copy(out, clips)
	return out
}
