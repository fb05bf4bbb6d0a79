package api

import (
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
	"github.com/clipdeck/clipdeck-agent/internal/session"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Playback       playback.State `json:"playback"`
	TotalDuration  float64        `json:"total_duration"`
	ClipCount      int            `json:"clip_count"`
	AssetsCount    int            `json:"assets_count"`
	PendingProbes  int            `json:"pending_probes"`
	ProbesPaused   bool           `json:"probes_paused"`
	LiveClients    int            `json:"live_clients"`
	RenderEnabled  bool           `json:"render_enabled"`
	Tools          *ToolsResponse `json:"tools,omitempty"`
	ActiveRenderID string         `json:"active_render_id,omitempty"`
}

type ToolsResponse struct {
	FFprobe        bool   `json:"ffprobe"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type AssetResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ContentType string   `json:"content_type"`
	Size        int64    `json:"size"`
	Origin      string   `json:"origin"`
	Duration    *float64 `json:"duration"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	ProbeStatus string   `json:"probe_status"`
	ProbeError  string   `json:"probe_error,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

type AssetsResponse struct {
	Assets []AssetResponse `json:"assets"`
}

// InsertClipRequest places an asset on a media track. Track "both" inserts
// on video and audio. A missing index appends.
type InsertClipRequest struct {
	AssetID string `json:"asset_id" validate:"required"`
	Track   string `json:"track" validate:"required,oneof=video audio both"`
	Index   *int   `json:"index" validate:"omitempty,gte=0"`
}

type TextRequest struct {
	Text     string  `json:"text" validate:"required,max=500"`
	Font     string  `json:"font" validate:"max=100"`
	Color    string  `json:"color" validate:"omitempty,hexcolor"`
	Duration float64 `json:"duration" validate:"gte=0,lte=3600"`
	Layer    *int    `json:"layer" validate:"omitempty,gte=0,lte=32"`
}

// DropRequest inserts an asset at the slot under a pointer. Shell drops
// land on both media tracks.
type DropRequest struct {
	AssetID     string  `json:"asset_id" validate:"required"`
	Track       string  `json:"track" validate:"required,oneof=video audio text"`
	PointerTime float64 `json:"pointer_time" validate:"gte=0"`
	Shell       bool    `json:"shell"`
}

// MoveRequest moves a clip to an index or, when pointer_time is set, to the
// slot under the pointer.
type MoveRequest struct {
	ClipID      string   `json:"clip_id" validate:"required"`
	From        string   `json:"from" validate:"required,oneof=video audio text"`
	To          string   `json:"to" validate:"required,oneof=video audio text"`
	Index       *int     `json:"index" validate:"omitempty,gte=0"`
	PointerTime *float64 `json:"pointer_time" validate:"omitempty,gte=0"`
}

type SelectionRequest struct {
	Track  string `json:"track" validate:"required,oneof=video audio text"`
	ClipID string `json:"clip_id" validate:"required"`
}

type SeekRequest struct {
	Time float64 `json:"time"`
}

// StepRequest moves the cursor by delta seconds, one second when omitted.
type StepRequest struct {
	Delta *float64 `json:"delta"`
}

type RateRequest struct {
	Rate float64 `json:"rate" validate:"gt=0,lte=16"`
}

type ClipsResponse struct {
	Clips []timeline.Clip `json:"clips"`
	View  session.View    `json:"view"`
}

type ClipResponse struct {
	Clip timeline.Clip `json:"clip"`
	View session.View  `json:"view"`
}

type RenderJobsResponse struct {
	Jobs []*catalog.RenderJob `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func AssetToResponse(a *catalog.Asset) AssetResponse {
	return AssetResponse{
		ID:          a.ID,
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		Origin:      a.Origin,
		Duration:    a.Duration,
		Width:       a.Width,
		Height:      a.Height,
		ProbeStatus: a.ProbeStatus,
		ProbeError:  a.ProbeError,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}
