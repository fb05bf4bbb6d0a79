// Package mediasync reconciles independently-driven media sinks against the
// virtual playback clock.
package mediasync

// ReadyState mirrors how much of a loaded source a sink can present.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// MediaSink is a video or audio output that loads a source and plays it at
// a local position.
type MediaSink interface {
	Load(sourceRef string) error
	// Unload stops presentation and drops the loaded source.
	Unload() error
	Seek(localTime float64) error
	Play() error
	Pause() error
	CurrentPosition() float64
	// LoadedSource is empty when nothing is loaded.
	LoadedSource() string
	ReadyState() ReadyState
}

// RateSetter is implemented by sinks that honour the playback rate.
type RateSetter interface {
	SetRate(rate float64) error
}

// Overlay is the text to draw above the video output.
type Overlay struct {
	ClipID     string `json:"clip_id"`
	Text       string `json:"text"`
	Font       string `json:"font,omitempty"`
	Color      string `json:"color,omitempty"`
	StackOrder int    `json:"stack_order"`
}

// OverlaySink presents text overlays.
type OverlaySink interface {
	Show(o Overlay) error
	Hide() error
}

// BaseStackOrder keeps overlays above the video output.
const BaseStackOrder = 2
