package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// VersionChecker reports the installed ffprobe version.
type VersionChecker interface {
	Version(ctx context.Context) (string, error)
}

// CachedDoctor caches tool availability with a TTL so status requests do not
// spawn a process each time.
type CachedDoctor struct {
	checker VersionChecker
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper. A nil checker reports ffprobe as
// unavailable.
func NewCachedDoctor(checker VersionChecker, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{
		checker: checker,
		ttl:     defaultCacheTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && d.now().Sub(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last result without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new check regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := &Capabilities{ProbedAt: d.now()}
	if d.checker == nil {
		d.cached = caps
		return caps, nil
	}

	version, err := d.checker.Version(ctx)
	if err != nil {
		d.logger.Warn("ffprobe check failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		d.cached = caps
		return caps, nil
	}

	caps.FFprobe = true
	caps.FFprobeVersion = version
	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
