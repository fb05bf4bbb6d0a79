package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

const (
	ProbeStatusPending = "pending"
	ProbeStatusProbing = "probing"
	ProbeStatusReady   = "ready"
	ProbeStatusFailed  = "failed"

	OriginUpload = "upload"
	OriginImport = "import"
)

// Asset is a media file in the library. Duration stays nil until probed.
type Asset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"storage_key"`
	Origin      string    `json:"origin"`
	Duration    *float64  `json:"duration"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	ProbeStatus string    `json:"probe_status"`
	ProbeError  string    `json:"probe_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SourceRef is the view of the asset needed to place clips.
func (a *Asset) SourceRef() timeline.SourceRef {
	return timeline.SourceRef{ID: a.ID, Name: a.Name, Duration: a.Duration}
}

const (
	RenderStatusSubmitting = "submitting"
	RenderStatusUploading  = "uploading"
	RenderStatusQueued     = "queued"
	RenderStatusRunning    = "running"
	RenderStatusComplete   = "complete"
	RenderStatusError      = "error"
)

// RenderJob tracks a timeline handed to the remote render service.
type RenderJob struct {
	ID          string    `json:"id"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	ClipCount   int       `json:"clip_count"`
	Duration    float64   `json:"duration"`
	DownloadURL string    `json:"download_url,omitempty"`
	LogURL      string    `json:"log_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Terminal reports whether the job will not change again.
func (j *RenderJob) Terminal() bool {
	return j.Status == RenderStatusComplete || j.Status == RenderStatusError
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

func NewID() string {
	return uuid.NewString()
}

// IsMediaFile reports whether the extension is one the editor can place.
func IsMediaFile(filename string) bool {
	_, ok := mediaTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ContentTypeFor guesses a MIME type from the file name.
func ContentTypeFor(filename string) string {
	if ct, ok := mediaTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
