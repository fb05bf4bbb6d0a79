package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/storage"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

var ErrAssetNotFound = errors.New("asset not found")

type CatalogService interface {
	AddAsset(ctx context.Context, name, contentType string, size int64, r io.Reader, origin string) (*Asset, error)
	ImportFile(ctx context.Context, path string) (*Asset, bool, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	OpenAsset(ctx context.Context, id string) (io.ReadSeekCloser, storage.ObjectInfo, error)
	LocateAsset(ctx context.Context, id string) (string, error)
	CountAssets(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Waker is told when new work is queued.
type Waker interface {
	Wake()
}

type Service struct {
	repo   Repository
	store  storage.Store
	logger *slog.Logger
	waker  Waker
}

func NewService(repo Repository, store storage.Store, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, logger: logger}
}

// SetWaker registers the probe runner so new assets are probed promptly.
func (s *Service) SetWaker(w Waker) {
	s.waker = w
}

// AddAsset stores the bytes and records a pending asset. A negative size
// means unknown; the stored byte count is recorded instead. The duration is
// filled in later by the probe runner.
func (s *Service) AddAsset(ctx context.Context, name, contentType string, size int64, r io.Reader, origin string) (*Asset, error) {
	name = export.SanitizeName(filepath.Base(name), 255)
	if name == "" {
		return nil, fmt.Errorf("asset name is required")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = ContentTypeFor(name)
	}
	if origin == "" {
		origin = OriginUpload
	}

	now := time.Now()
	asset := &Asset{
		ID:          NewID(),
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Origin:      origin,
		ProbeStatus: ProbeStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	asset.StorageKey = export.AssetKey(asset.ID, name)

	counter := &countingReader{r: r}
	if err := s.store.Put(ctx, asset.StorageKey, counter, size, contentType); err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}
	if size < 0 {
		asset.Size = counter.n
		size = counter.n
	}

	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		if delErr := s.store.Delete(ctx, asset.StorageKey); delErr != nil && s.logger != nil {
			s.logger.Warn("failed to remove orphaned object", "key", asset.StorageKey, "error", delErr)
		}
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("asset added", "asset_id", asset.ID, "name", name, "size", size, "origin", origin)
	}
	if s.waker != nil {
		s.waker.Wake()
	}
	return asset, nil
}

// ImportFile copies a local media file into the library. A file with the same
// name and size already in the library is returned instead of re-imported.
func (s *Service) ImportFile(ctx context.Context, path string) (*Asset, bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, false, fmt.Errorf("invalid path: %w", err)
	}
	if !IsMediaFile(absPath) {
		return nil, false, fmt.Errorf("unsupported media type: %s", filepath.Ext(absPath))
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("path does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("path is a directory")
	}

	name := filepath.Base(absPath)
	existing, err := s.repo.FindAsset(ctx, export.SanitizeName(name, 255), info.Size())
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	asset, err := s.AddAsset(ctx, name, ContentTypeFor(name), info.Size(), f, OriginImport)
	if err != nil {
		return nil, false, err
	}
	return asset, true, nil
}

func (s *Service) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

func (s *Service) ListAssets(ctx context.Context) ([]*Asset, error) {
	return s.repo.ListAssets(ctx)
}

func (s *Service) CountAssets(ctx context.Context) (int, error) {
	return s.repo.CountAssets(ctx)
}

// OpenAsset returns a seekable reader over the asset bytes.
func (s *Service) OpenAsset(ctx context.Context, id string) (io.ReadSeekCloser, storage.ObjectInfo, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	if asset == nil {
		return nil, storage.ObjectInfo{}, ErrAssetNotFound
	}
	rc, info, err := s.store.Open(ctx, asset.StorageKey)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	if info.ContentType == "" || info.ContentType == "application/octet-stream" {
		info.ContentType = asset.ContentType
	}
	return rc, info, nil
}

// LocateAsset returns a path or URL that ffprobe can read.
func (s *Service) LocateAsset(ctx context.Context, id string) (string, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return "", err
	}
	if asset == nil {
		return "", ErrAssetNotFound
	}
	return s.store.Locate(ctx, asset.StorageKey)
}

// Clear removes every asset and its stored bytes.
func (s *Service) Clear(ctx context.Context) error {
	assets, err := s.repo.ListAssets(ctx)
	if err != nil {
		return err
	}
	for _, a := range assets {
		if err := s.store.Delete(ctx, a.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			if s.logger != nil {
				s.logger.Warn("failed to delete asset bytes", "asset_id", a.ID, "error", err)
			}
		}
	}
	if err := s.repo.DeleteAllAssets(ctx); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("library cleared", "count", len(assets))
	}
	return nil
}

// Source resolves an asset for clip placement. It reports false when the
// asset is not in the library.
func (s *Service) Source(ctx context.Context, id string) (timeline.SourceRef, bool, error) {
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return timeline.SourceRef{}, false, err
	}
	if asset == nil {
		return timeline.SourceRef{}, false, nil
	}
	return asset.SourceRef(), true, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
