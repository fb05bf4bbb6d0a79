// Package pipeline runs ffprobe to learn asset durations and reports which
// media tools are installed.
package pipeline

import (
	"context"
	"time"
)

// ProbeResult is what the agent needs to know about a media file.
type ProbeResult struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	FormatName string  `json:"format_name,omitempty"`
}

// HasVideo reports whether a video stream was found.
func (p *ProbeResult) HasVideo() bool { return p.VideoCodec != "" }

// HasAudio reports whether an audio stream was found.
func (p *ProbeResult) HasAudio() bool { return p.AudioCodec != "" }

// Prober reads media metadata from a local path or URL.
type Prober interface {
	Probe(ctx context.Context, input string) (*ProbeResult, error)
}

// Capabilities reports which tools are available.
type Capabilities struct {
	FFprobe        bool      `json:"ffprobe"`
	FFprobeVersion string    `json:"ffprobe_version,omitempty"`
	ProbedAt       time.Time `json:"probed_at"`
}

// RunResult captures the outcome of a subprocess.
type RunResult struct {
	ExitCode   int
	Stdout     []byte
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true if the process exited with code 0.
func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}
