package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
)

const defaultProbePoll = 5 * time.Second

// ProbeFunc is called after an asset's probe finishes, successfully or not.
type ProbeFunc func(asset *Asset)

// Runner drains the probe queue: pending assets are claimed one at a time,
// probed with ffprobe and marked ready or failed.
type Runner struct {
	service      *Service
	repo         Repository
	prober       pipeline.Prober
	doctor       *pipeline.CachedDoctor
	logger       *slog.Logger
	pollInterval time.Duration
	onProbed     ProbeFunc
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, prober pipeline.Prober, doctor *pipeline.CachedDoctor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		service:      service,
		repo:         repo,
		prober:       prober,
		doctor:       doctor,
		logger:       logger,
		pollInterval: defaultProbePoll,
		wake:         make(chan struct{}, 1),
	}
}

// SetPollInterval overrides the idle poll interval.
func (r *Runner) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

// OnProbed registers a completion callback.
func (r *Runner) OnProbed(fn ProbeFunc) {
	r.onProbed = fn
}

// Wake makes the runner check the queue without waiting for the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("probe runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("probe runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if r.paused.Load() {
			continue
		}
		for r.ProcessNext(ctx) {
			if ctx.Err() != nil || r.paused.Load() {
				break
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("probe runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("probe runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ProcessNext probes one pending asset. It reports whether an asset was
// taken from the queue.
func (r *Runner) ProcessNext(ctx context.Context) bool {
	pending, err := r.repo.ListAssetsByProbeStatus(ctx, ProbeStatusPending, 1)
	if err != nil {
		r.logger.Error("failed to list pending assets", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	asset := pending[0]
	claimed, err := r.repo.ClaimAssetForProbe(ctx, asset.ID)
	if err != nil {
		r.logger.Error("failed to claim asset", "asset_id", asset.ID, "error", err)
		return false
	}
	if !claimed {
		return true
	}

	r.probe(ctx, asset)
	return true
}

func (r *Runner) probe(ctx context.Context, asset *Asset) {
	r.logger.Info("probing asset", "asset_id", asset.ID, "name", asset.Name)

	result, err := r.runProbe(ctx, asset)
	if err != nil {
		asset.ProbeStatus = ProbeStatusFailed
		asset.ProbeError = truncateStr(err.Error(), 512)
		asset.Duration = nil
		r.logger.Warn("asset probe failed, duration stays unknown", "asset_id", asset.ID, "error", err)
	} else {
		d := result.Duration
		asset.Duration = &d
		asset.Width = result.Width
		asset.Height = result.Height
		asset.ProbeStatus = ProbeStatusReady
		asset.ProbeError = ""
		r.logger.Info("asset probed", "asset_id", asset.ID, "duration", d)
	}

	if err := r.repo.UpdateAssetProbe(ctx, asset); err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			r.logger.Info("asset removed while probing, result dropped", "asset_id", asset.ID)
			return
		}
		r.logger.Error("failed to record probe result", "asset_id", asset.ID, "error", err)
		return
	}
	if r.onProbed != nil {
		r.onProbed(asset)
	}
}

func (r *Runner) runProbe(ctx context.Context, asset *Asset) (*pipeline.ProbeResult, error) {
	if r.prober == nil {
		return nil, pipeline.ErrProberUnavailable
	}
	if r.doctor != nil {
		caps, err := r.doctor.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool check failed: %w", err)
		}
		if !caps.FFprobe {
			return nil, pipeline.ErrProberUnavailable
		}
	}

	input, err := r.service.LocateAsset(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("locate asset: %w", err)
	}
	return r.prober.Probe(ctx, input)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

// PendingCount is the number of assets waiting to be probed.
func (r *Runner) PendingCount(ctx context.Context) int {
	pending, err := r.repo.ListAssetsByProbeStatus(ctx, ProbeStatusPending, 1000)
	if err != nil {
		return 0
	}
	return len(pending)
}
