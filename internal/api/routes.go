package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Validate == nil {
		cfg.Validate = NewValidator()
	}
	if cfg.Media == nil {
		cfg.Media = playback.NewMediaServer(cfg.Logger)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/assets", listAssetsHandler(cfg))
		r.Post("/assets", uploadAssetHandler(cfg))
		r.Delete("/assets", clearAssetsHandler(cfg))
		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/assets/{id}/media", mediaHandler(cfg))
			r.Head("/assets/{id}/media", mediaHandler(cfg))
		})

		r.Get("/timeline", timelineHandler(cfg))
		r.Post("/timeline/clips", insertClipHandler(cfg))
		r.Post("/timeline/text", addTextHandler(cfg))
		r.Post("/timeline/drop", dropAssetHandler(cfg))
		r.Post("/timeline/move", moveClipHandler(cfg))
		r.Post("/timeline/split", splitHandler(cfg))
		r.Put("/timeline/selection", selectHandler(cfg))
		r.Delete("/timeline/selection", clearSelectionHandler(cfg))
		r.Delete("/timeline/selection/clip", removeSelectedHandler(cfg))

		r.Post("/playback/play", playHandler(cfg))
		r.Post("/playback/pause", pauseHandler(cfg))
		r.Post("/playback/toggle", toggleHandler(cfg))
		r.Post("/playback/seek", seekHandler(cfg))
		r.Post("/playback/step", stepHandler(cfg))
		r.Put("/playback/rate", rateHandler(cfg))

		r.Get("/export/decision-list", decisionListHandler(cfg))
		r.Post("/export/edl", exportEDLHandler(cfg))

		r.Post("/render", submitRenderHandler(cfg))
		r.Get("/render/jobs", listRenderJobsHandler(cfg))
		r.Get("/render/jobs/{id}", getRenderJobHandler(cfg))

		if cfg.Hub != nil {
			r.Get("/ws", cfg.Hub.ServeWS)
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		view := cfg.Session.View()
		assetsCount, _ := cfg.Catalog.CountAssets(ctx)

		resp := StatusResponse{
			Playback:      view.Playback,
			TotalDuration: view.TotalDuration,
			ClipCount:     len(view.Tracks.Video) + len(view.Tracks.Audio) + len(view.Tracks.Text),
			AssetsCount:   assetsCount,
		}

		if cfg.Runner != nil {
			resp.PendingProbes = cfg.Runner.PendingCount(ctx)
			resp.ProbesPaused = cfg.Runner.IsPaused()
		}
		if cfg.Hub != nil {
			resp.LiveClients = cfg.Hub.ClientCount()
		}
		if cfg.Render != nil {
			resp.RenderEnabled = cfg.Render.Configured()
			if jobs, err := cfg.Render.List(ctx, 10); err == nil {
				for _, j := range jobs {
					if !j.Terminal() {
						resp.ActiveRenderID = j.ID
						break
					}
				}
			}
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				tools := &ToolsResponse{
					FFprobe:        caps.FFprobe,
					FFprobeVersion: caps.FFprobeVersion,
				}
				if !caps.ProbedAt.IsZero() {
					tools.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.Tools = tools
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := cfg.Catalog.ListAssets(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list assets", "INTERNAL_ERROR")
			return
		}

		resp := AssetsResponse{Assets: make([]AssetResponse, len(assets))}
		for i, a := range assets {
			resp.Assets[i] = AssetToResponse(a)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func uploadAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		reader, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "multipart body required", "BAD_REQUEST")
			return
		}

		for {
			part, err := reader.NextPart()
			if err != nil {
				WriteError(w, http.StatusBadRequest, "file field is required", "BAD_REQUEST")
				return
			}
			if part.FormName() != "file" || part.FileName() == "" {
				part.Close()
				continue
			}

			asset, err := cfg.Catalog.AddAsset(r.Context(), part.FileName(), part.Header.Get("Content-Type"), -1, part, catalog.OriginUpload)
			part.Close()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", "TOO_LARGE")
					return
				}
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteJSON(w, http.StatusCreated, AssetToResponse(asset))
			return
		}
	}
}

func clearAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Clear()
		if err := cfg.Catalog.Clear(r.Context()); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rc, info, err := cfg.Catalog.OpenAsset(r.Context(), id)
		if err != nil {
			if errors.Is(err, catalog.ErrAssetNotFound) {
				WriteError(w, http.StatusNotFound, "asset not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		defer rc.Close()

		if err := cfg.Media.Serve(w, r, rc, info); err != nil {
			cfg.Logger.Error("media serve error", "error", err, "asset_id", id)
		}
	}
}
