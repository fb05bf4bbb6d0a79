package pipeline

import (
	"context"
	"errors"
	"log/slog"
)

// ErrProberUnavailable is returned when no ffprobe binary could be found.
var ErrProberUnavailable = errors.New("ffprobe not available")

// StubProber is used when ffprobe is missing. Every probe fails, which leaves
// asset durations unknown.
type StubProber struct {
	logger *slog.Logger
}

func NewStubProber(logger *slog.Logger) *StubProber {
	return &StubProber{logger: logger}
}

func (p *StubProber) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	p.logger.Info("ffprobe stub: probe requested, durations stay unknown")
	return nil, ErrProberUnavailable
}
