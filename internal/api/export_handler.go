package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/render"
)

const defaultFrameRate = 30.0

func decisionListHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dl, _ := cfg.Session.DecisionList(time.Now())
		WriteJSON(w, http.StatusOK, dl)
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.EDLRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		projectName := export.SanitizeName(req.ProjectName, 120)
		if projectName == "" {
			projectName = "clipdeck_export"
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = defaultFrameRate
		}

		dl, _ := cfg.Session.DecisionList(time.Now())
		if len(dl.Timeline.Video)+len(dl.Timeline.Audio) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "timeline has no media clips", "INVALID_OPERATION")
			return
		}

		ctx := r.Context()
		resolvedClips, unresolvedClips := export.ResolveClips(dl, func(sourceID string) (export.SourceInfo, bool) {
			asset, err := cfg.Catalog.GetAsset(ctx, sourceID)
			if err != nil || asset == nil {
				return export.SourceInfo{}, false
			}
			path, err := cfg.Catalog.LocateAsset(ctx, sourceID)
			if err != nil {
				return export.SourceInfo{}, false
			}
			return export.SourceInfo{Name: asset.Name, Path: path}, true
		})

		if len(resolvedClips) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "no clips could be resolved", "UNRESOLVABLE_CLIPS")
			return
		}
		if unresolvedClips == nil {
			unresolvedClips = []string{}
		}

		edl := export.GenerateEDL(resolvedClips, dl.Timeline.Text, projectName, frameRate)
		outputPath := filepath.Join(req.OutputDir, projectName+".edl")
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, export.ExportResponse{
			Status:          "ok",
			Format:          "edl",
			OutputPath:      outputPath,
			ClipCount:       len(resolvedClips),
			UnresolvedClips: unresolvedClips,
		})
	}
}

func submitRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Render == nil {
			writeCommandError(w, render.ErrNoEndpoint)
			return
		}
		dl, total := cfg.Session.DecisionList(time.Now())
		job, err := cfg.Render.Submit(r.Context(), dl, total)
		if err != nil {
			if job != nil {
				WriteJSON(w, http.StatusBadGateway, job)
				return
			}
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, job)
	}
}

func listRenderJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Render == nil {
			WriteJSON(w, http.StatusOK, RenderJobsResponse{Jobs: nil})
			return
		}
		jobs, err := cfg.Render.List(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list render jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, RenderJobsResponse{Jobs: jobs})
	}
}

func getRenderJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if cfg.Render == nil {
			WriteError(w, http.StatusNotFound, "render job not found", "NOT_FOUND")
			return
		}
		job, err := cfg.Render.Get(r.Context(), id)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}
