package timeline

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultFallbackDuration is used for assets whose duration is unknown.
	DefaultFallbackDuration = 8.0
	// DefaultTextDuration applies when a text clip asks for zero seconds.
	DefaultTextDuration = 3.0
	// MinTextDuration is the shortest text clip.
	MinTextDuration = 1.0
	// DefaultTextLayer stacks text above the base layer.
	DefaultTextLayer = 1
	// SplitEdgeMargin keeps splits away from clip edges.
	SplitEdgeMargin = 0.1
)

// SourceRef is the part of a library asset needed to place a clip.
type SourceRef struct {
	ID   string
	Name string
	// Duration is nil until the asset has been probed.
	Duration *float64
}

// TextSpec describes a text overlay to append.
type TextSpec struct {
	Text     string
	Font     string
	Color    string
	Duration float64
	// Layer is nil for the default layer.
	Layer *int
}

// Editor applies edit operations to a Timeline.
type Editor struct {
	tl       *Timeline
	newID    func() string
	fallback float64
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithIDGenerator overrides clip ID generation.
func WithIDGenerator(fn func() string) EditorOption {
	return func(e *Editor) { e.newID = fn }
}

// WithFallbackDuration sets the duration used for unprobed assets.
func WithFallbackDuration(seconds float64) EditorOption {
	return func(e *Editor) {
		if seconds > 0 {
			e.fallback = seconds
		}
	}
}

// NewEditor returns an editor bound to tl.
func NewEditor(tl *Timeline, opts ...EditorOption) *Editor {
	e := &Editor{
		tl:       tl,
		newID:    uuid.NewString,
		fallback: DefaultFallbackDuration,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeline returns the underlying store.
func (e *Editor) Timeline() *Timeline {
	return e.tl
}

// InsertFromAsset places the full extent of an asset on a media track.
func (e *Editor) InsertFromAsset(src SourceRef, track TrackKind, index int) (Clip, error) {
	const op = "insert"
	if track == TrackText {
		return Clip{}, policyError(op, "Use the text controls to add overlays.")
	}
	if src.ID == "" {
		return Clip{}, invalidOp(op, "source is required")
	}
	end := e.fallback
	if src.Duration != nil && *src.Duration > 0 {
		end = *src.Duration
	}
	clip := Clip{
		ID:       e.newID(),
		Type:     track,
		SourceID: src.ID,
		Start:    0,
		End:      end,
		Color:    Palette[e.tl.Len(track)%len(Palette)],
		Layer:    0,
		Label:    src.Name,
	}
	if err := e.tl.Insert(track, clip, index); err != nil {
		return Clip{}, err
	}
	return clip, nil
}

// InsertText appends a text overlay to the text track.
func (e *Editor) InsertText(spec TextSpec) (Clip, error) {
	text := strings.TrimSpace(spec.Text)
	if text == "" {
		return Clip{}, invalidOp("insert text", "Enter text before adding to the track.")
	}
	duration := spec.Duration
	if duration == 0 {
		duration = DefaultTextDuration
	}
	if duration < MinTextDuration {
		duration = MinTextDuration
	}
	color := spec.Color
	if color == "" {
		color = TextColor
	}
	layer := DefaultTextLayer
	if spec.Layer != nil {
		layer = *spec.Layer
	}
	start := e.tl.TrackDuration(TrackText)
	clip := Clip{
		ID:    e.newID(),
		Type:  TrackText,
		Start: start,
		End:   start + duration,
		Text:  text,
		Font:  spec.Font,
		Color: color,
		Layer: layer,
		Label: "Text",
	}
	if err := e.tl.Insert(TrackText, clip, AppendIndex); err != nil {
		return Clip{}, err
	}
	return clip, nil
}

// Split cuts clip id on track at global time t into two clips that together
// cover the original range. The clip must be the one under t.
func (e *Editor) Split(track TrackKind, id string, t float64) (Clip, Clip, error) {
	const op = "split"
	if _, _, ok := e.tl.Find(track, id); !ok {
		return Clip{}, Clip{}, notFound(op, id)
	}
	loc, ok := e.tl.Locate(track, t)
	if !ok || loc.Clip.ID != id {
		return Clip{}, Clip{}, invalidOp(op, "The playhead is not over the selected clip.")
	}
	dur := loc.Clip.Duration()
	if loc.Offset <= SplitEdgeMargin || loc.Offset >= dur-SplitEdgeMargin {
		return Clip{}, Clip{}, invalidOp(op, "Cannot split at the very edge of a clip.")
	}

	cut := loc.Clip.Start + loc.Offset
	first := loc.Clip
	first.ID = e.newID()
	first.End = cut
	first.Label = loc.Clip.Label + " (A)"

	second := loc.Clip
	second.ID = e.newID()
	second.Start = cut
	second.Label = loc.Clip.Label + " (B)"

	if err := e.tl.ReplaceRange(track, id, first, second); err != nil {
		return Clip{}, Clip{}, err
	}
	return first, second, nil
}

// Remove deletes a clip; later clips shift earlier.
func (e *Editor) Remove(track TrackKind, id string) (Clip, error) {
	return e.tl.Remove(track, id)
}

// Move reorders a clip within a track or moves it across media tracks.
// A negative index appends.
func (e *Editor) Move(id string, from, to TrackKind, index int) (Clip, error) {
	clip, err := e.tl.Move(id, from, to, index)
	if err != nil {
		return Clip{}, err
	}
	if to == TrackAudio && clip.Color != AudioColor {
		clip.Color = AudioColor
		if err := e.tl.Update(to, clip); err != nil {
			return Clip{}, err
		}
	}
	return clip, nil
}

// MoveToTime moves a clip to the slot under pointerTime on the destination
// track, measured before the clip is taken out.
func (e *Editor) MoveToTime(id string, from, to TrackKind, pointerTime float64) (Clip, error) {
	if err := e.CheckMove(from, to); err != nil {
		return Clip{}, err
	}
	index := InsertionIndex(e.tl.Clips(to), pointerTime)
	return e.Move(id, from, to, index)
}

// CheckMove validates the text/media policy for a move without a clip.
func (e *Editor) CheckMove(from, to TrackKind) error {
	switch {
	case from == TrackText && to != TrackText:
		return policyError("move", "Text clips stay on the text track.")
	case from != TrackText && to == TrackText:
		return policyError("move", "Use the text controls to add overlays.")
	}
	return nil
}
