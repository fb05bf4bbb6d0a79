package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	FindAsset(ctx context.Context, name string, size int64) (*Asset, error)
	ListAssets(ctx context.Context) ([]*Asset, error)
	ListAssetsByProbeStatus(ctx context.Context, status string, limit int) ([]*Asset, error)
	ClaimAssetForProbe(ctx context.Context, id string) (bool, error)
	UpdateAssetProbe(ctx context.Context, asset *Asset) error
	DeleteAllAssets(ctx context.Context) error
	CountAssets(ctx context.Context) (int, error)

	CreateRenderJob(ctx context.Context, job *RenderJob) error
	GetRenderJob(ctx context.Context, id string) (*RenderJob, error)
	ListRenderJobs(ctx context.Context, limit int) ([]*RenderJob, error)
	ListActiveRenderJobs(ctx context.Context) ([]*RenderJob, error)
	UpdateRenderJob(ctx context.Context, job *RenderJob) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const assetColumns = `id, name, content_type, size, storage_key, origin, duration, width, height,
	probe_status, probe_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.ContentType, a.Size, a.StorageKey, a.Origin, nullFloat(a.Duration),
		nullInt(a.Width), nullInt(a.Height), a.ProbeStatus, nullString(a.ProbeError),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *SQLiteRepository) FindAsset(ctx context.Context, name string, size int64) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+assetColumns+` FROM assets WHERE name = ? AND size = ?
		ORDER BY created_at LIMIT 1
	`, name, size)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *SQLiteRepository) ListAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssets(rows)
}

func (r *SQLiteRepository) ListAssetsByProbeStatus(ctx context.Context, status string, limit int) ([]*Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM assets WHERE probe_status = ?
		ORDER BY created_at, rowid LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssets(rows)
}

// ClaimAssetForProbe moves a pending asset to probing. It returns false when
// another worker got there first or the asset is gone.
func (r *SQLiteRepository) ClaimAssetForProbe(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assets SET probe_status = ?, updated_at = ?
		WHERE id = ? AND probe_status = ?
	`, ProbeStatusProbing, time.Now().Format(time.RFC3339), id, ProbeStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateAssetProbe records a probe result. It returns ErrAssetNotFound when
// the asset was removed while it was being probed.
func (r *SQLiteRepository) UpdateAssetProbe(ctx context.Context, a *Asset) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE assets SET duration = ?, width = ?, height = ?, probe_status = ?, probe_error = ?, updated_at = ?
		WHERE id = ?
	`, nullFloat(a.Duration), nullInt(a.Width), nullInt(a.Height), a.ProbeStatus,
		nullString(a.ProbeError), time.Now().Format(time.RFC3339), a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteAllAssets(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM assets")
	return err
}

func (r *SQLiteRepository) CountAssets(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets").Scan(&count)
	return count, err
}

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	var duration sql.NullFloat64
	var width, height sql.NullInt64
	var probeError sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&a.ID, &a.Name, &a.ContentType, &a.Size, &a.StorageKey, &a.Origin, &duration,
		&width, &height, &a.ProbeStatus, &probeError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if duration.Valid {
		d := duration.Float64
		a.Duration = &d
	}
	a.Width = int(width.Int64)
	a.Height = int(height.Int64)
	a.ProbeError = probeError.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

func collectAssets(rows *sql.Rows) ([]*Asset, error) {
	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

const renderJobColumns = `id, remote_id, status, progress, clip_count, duration, download_url, log_url,
	error, created_at, updated_at`

func (r *SQLiteRepository) CreateRenderJob(ctx context.Context, j *RenderJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO render_jobs (`+renderJobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, nullString(j.RemoteID), j.Status, j.Progress, j.ClipCount, j.Duration,
		nullString(j.DownloadURL), nullString(j.LogURL), nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetRenderJob(ctx context.Context, id string) (*RenderJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+renderJobColumns+` FROM render_jobs WHERE id = ?`, id)
	j, err := scanRenderJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListRenderJobs(ctx context.Context, limit int) ([]*RenderJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+renderJobColumns+` FROM render_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRenderJobs(rows)
}

func (r *SQLiteRepository) ListActiveRenderJobs(ctx context.Context) ([]*RenderJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+renderJobColumns+` FROM render_jobs
		WHERE status IN (?, ?) AND remote_id IS NOT NULL
		ORDER BY created_at
	`, RenderStatusQueued, RenderStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRenderJobs(rows)
}

func (r *SQLiteRepository) UpdateRenderJob(ctx context.Context, j *RenderJob) error {
	j.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE render_jobs SET remote_id = ?, status = ?, progress = ?, download_url = ?, log_url = ?,
			error = ?, updated_at = ?
		WHERE id = ?
	`, nullString(j.RemoteID), j.Status, j.Progress, nullString(j.DownloadURL), nullString(j.LogURL),
		nullString(j.Error), j.UpdatedAt.Format(time.RFC3339), j.ID)
	return err
}

func scanRenderJob(row rowScanner) (*RenderJob, error) {
	var j RenderJob
	var remoteID, downloadURL, logURL, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &remoteID, &j.Status, &j.Progress, &j.ClipCount, &j.Duration,
		&downloadURL, &logURL, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.RemoteID = remoteID.String
	j.DownloadURL = downloadURL.String
	j.LogURL = logURL.String
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func collectRenderJobs(rows *sql.Rows) ([]*RenderJob, error) {
	var jobs []*RenderJob
	for rows.Next() {
		j, err := scanRenderJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
