package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/storage"
)

// DefaultPollInterval matches the cadence the render service expects.
const DefaultPollInterval = 1200 * time.Millisecond

var (
	ErrEmptyTimeline = errors.New("Timeline is empty; nothing to send.")
	ErrNoEndpoint    = errors.New("API endpoint not configured.")
	ErrJobNotFound   = errors.New("render job not found")
)

// AssetSource gives access to library assets and their bytes.
type AssetSource interface {
	GetAsset(ctx context.Context, id string) (*catalog.Asset, error)
	OpenAsset(ctx context.Context, id string) (io.ReadSeekCloser, storage.ObjectInfo, error)
}

// Listener is told about every render job change.
type Listener func(job *catalog.RenderJob)

type Service struct {
	repo         catalog.Repository
	assets       AssetSource
	client       Client
	logger       *slog.Logger
	pollInterval time.Duration

	mu        sync.Mutex
	ctx       context.Context
	listeners []Listener
	watching  map[string]bool
	wg        sync.WaitGroup
}

// NewService creates the render service. A nil client means no endpoint is
// configured and every submission is refused.
func NewService(repo catalog.Repository, assets AssetSource, client Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		assets:       assets,
		client:       client,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		ctx:          context.Background(),
		watching:     make(map[string]bool),
	}
}

func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Configured reports whether a render endpoint is set.
func (s *Service) Configured() bool {
	return s.client != nil
}

func (s *Service) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start resumes monitoring of jobs that were queued or running when the
// agent last stopped. Monitors stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	jobs, err := s.repo.ListActiveRenderJobs(ctx)
	if err != nil {
		return fmt.Errorf("list active render jobs: %w", err)
	}
	for _, job := range jobs {
		s.logger.Info("resuming render job monitor", "job_id", job.ID, "remote_id", job.RemoteID)
		s.monitor(job)
	}
	return nil
}

// Wait blocks until every monitor has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Get(ctx context.Context, id string) (*catalog.RenderJob, error) {
	job, err := s.repo.GetRenderJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*catalog.RenderJob, error) {
	return s.repo.ListRenderJobs(ctx, limit)
}

// Submit requests a remote job for the decision list, uploads every used
// asset and starts polling. The returned job is queued; later changes reach
// subscribers.
func (s *Service) Submit(ctx context.Context, dl export.DecisionList, totalDuration float64) (*catalog.RenderJob, error) {
	if totalDuration <= 0 {
		return nil, ErrEmptyTimeline
	}
	if s.client == nil {
		return nil, ErrNoEndpoint
	}

	uploads, err := s.collectAssets(ctx, dl)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &catalog.RenderJob{
		ID:        catalog.NewID(),
		Status:    catalog.RenderStatusSubmitting,
		ClipCount: dl.ClipCount(),
		Duration:  totalDuration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRenderJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record render job: %w", err)
	}
	s.notify(job)

	req := CreateJobRequest{Timeline: dl.Timeline, Assets: make([]AssetUpload, 0, len(uploads))}
	for _, u := range uploads {
		req.Assets = append(req.Assets, AssetUpload{Key: u.key, ContentType: u.asset.ContentType})
	}

	s.logger.Info("requesting job and presigned uploads", "job_id", job.ID, "assets", len(uploads))
	resp, err := s.client.CreateJob(ctx, req)
	if err != nil {
		return s.fail(ctx, job, fmt.Errorf("create render job: %w", err))
	}

	job.RemoteID = resp.JobID
	job.Status = catalog.RenderStatusUploading
	s.save(ctx, job)

	for _, u := range uploads {
		url := resp.URLFor(u.key)
		if url == "" {
			s.logger.Warn("no upload URL for asset, skipping", "job_id", job.ID, "key", u.key)
			continue
		}
		if err := s.upload(ctx, u, url); err != nil {
			return s.fail(ctx, job, fmt.Errorf("upload failed for %s: %w", u.asset.Name, err))
		}
	}

	job.Status = catalog.RenderStatusQueued
	job.Progress = 5
	s.save(ctx, job)
	s.logger.Info("render job queued, polling progress", "job_id", job.ID, "remote_id", job.RemoteID)

	out := *job
	s.monitor(job)
	return &out, nil
}

type assetUpload struct {
	asset *catalog.Asset
	key   string
}

func (s *Service) collectAssets(ctx context.Context, dl export.DecisionList) ([]assetUpload, error) {
	var out []assetUpload
	for _, id := range dl.UsedSourceIDs() {
		asset, err := s.assets.GetAsset(ctx, id)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			s.logger.Warn("timeline references a missing asset", "asset_id", id)
			continue
		}
		out = append(out, assetUpload{asset: asset, key: export.AssetKey(asset.ID, asset.Name)})
	}
	return out, nil
}

func (s *Service) upload(ctx context.Context, u assetUpload, url string) error {
	rc, info, err := s.assets.OpenAsset(ctx, u.asset.ID)
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := u.asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	s.logger.Info("uploading asset", "asset_id", u.asset.ID, "key", u.key, "size", info.Size)
	return s.client.Upload(ctx, url, rc, info.Size, contentType)
}

func (s *Service) fail(ctx context.Context, job *catalog.RenderJob, err error) (*catalog.RenderJob, error) {
	job.Status = catalog.RenderStatusError
	job.Error = err.Error()
	s.save(ctx, job)
	s.logger.Error("render submission failed", "job_id", job.ID, "error", err)
	return job, err
}

func (s *Service) save(ctx context.Context, job *catalog.RenderJob) {
	if err := s.repo.UpdateRenderJob(ctx, job); err != nil {
		s.logger.Error("failed to update render job", "job_id", job.ID, "error", err)
	}
	s.notify(job)
}

func (s *Service) notify(job *catalog.RenderJob) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		snapshot := *job
		fn(&snapshot)
	}
}

func (s *Service) monitor(job *catalog.RenderJob) {
	s.mu.Lock()
	if s.watching[job.ID] {
		s.mu.Unlock()
		return
	}
	s.watching[job.ID] = true
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.watching, job.ID)
			s.mu.Unlock()
		}()
		s.poll(ctx, job)
	}()
}

func (s *Service) poll(ctx context.Context, job *catalog.RenderJob) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := s.client.JobStatus(ctx, job.RemoteID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			job.Status = catalog.RenderStatusError
			job.Error = err.Error()
			s.save(context.Background(), job)
			s.logger.Error("render job poll failed", "job_id", job.ID, "error", err)
			return
		}

		changed := job.Status != st.Status || job.Progress != st.Percent()
		job.Progress = st.Percent()
		if st.Status != "" {
			job.Status = st.Status
		}
		job.DownloadURL = st.DownloadURL
		job.LogURL = st.LogURL
		job.Error = st.Error

		switch job.Status {
		case catalog.RenderStatusComplete:
			job.Progress = 100
			s.save(ctx, job)
			if job.DownloadURL == "" {
				s.logger.Info("render complete, no download URL provided", "job_id", job.ID)
			} else {
				s.logger.Info("render ready", "job_id", job.ID, "download_url", job.DownloadURL)
			}
			return
		case catalog.RenderStatusError:
			s.save(ctx, job)
			s.logger.Error("render failed", "job_id", job.ID, "error", job.Error, "log_url", job.LogURL)
			return
		}

		if changed {
			s.save(ctx, job)
		}
	}
}
