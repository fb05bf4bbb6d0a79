package api

import (
	"net/http"

	"github.com/clipdeck/clipdeck-agent/internal/session"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

func indexOrAppend(index *int) int {
	if index == nil {
		return -1
	}
	return *index
}

func timelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.View())
	}
}

func insertClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InsertClipRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		index := indexOrAppend(req.Index)
		if req.Track == "both" {
			clips, view, err := cfg.Session.InsertAssetBoth(r.Context(), req.AssetID, index)
			if err != nil {
				writeCommandError(w, err)
				return
			}
			WriteJSON(w, http.StatusCreated, ClipsResponse{Clips: clips, View: view})
			return
		}

		clip, view, err := cfg.Session.InsertAsset(r.Context(), req.AssetID, timeline.TrackKind(req.Track), index)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipResponse{Clip: clip, View: view})
	}
}

func addTextHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TextRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		clip, view, err := cfg.Session.AddText(timeline.TextSpec{
			Text:     req.Text,
			Font:     req.Font,
			Color:    req.Color,
			Duration: req.Duration,
			Layer:    req.Layer,
		})
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipResponse{Clip: clip, View: view})
	}
}

func dropAssetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DropRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		clips, view, err := cfg.Session.DropAsset(r.Context(), req.AssetID, timeline.TrackKind(req.Track), req.PointerTime, req.Shell)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipsResponse{Clips: clips, View: view})
	}
}

func moveClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		from, to := timeline.TrackKind(req.From), timeline.TrackKind(req.To)
		var (
			clip timeline.Clip
			view session.View
			err  error
		)
		if req.PointerTime != nil {
			clip, view, err = cfg.Session.DropClip(req.ClipID, from, to, *req.PointerTime)
		} else {
			clip, view, err = cfg.Session.MoveClip(req.ClipID, from, to, indexOrAppend(req.Index))
		}
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipResponse{Clip: clip, View: view})
	}
}

func splitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips, view, err := cfg.Session.Split()
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipsResponse{Clips: clips, View: view})
	}
}

func selectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectionRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}

		view, err := cfg.Session.Select(timeline.TrackKind(req.Track), req.ClipID)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func clearSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.ClearSelection())
	}
}

func removeSelectedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, view, err := cfg.Session.RemoveSelected()
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipResponse{Clip: clip, View: view})
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := cfg.Session.Play()
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Session.Pause())
	}
}

func toggleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := cfg.Session.Toggle()
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Seek(req.Time))
	}
}

func stepHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StepRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}
		delta := session.DefaultStep
		if req.Delta != nil {
			delta = *req.Delta
		}
		WriteJSON(w, http.StatusOK, cfg.Session.Step(delta))
	}
}

func rateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RateRequest
		if !decodeAndValidate(w, r, cfg.Validate, &req) {
			return
		}
		view, err := cfg.Session.SetRate(req.Rate)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	}
}
