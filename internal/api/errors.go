package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
	"github.com/clipdeck/clipdeck-agent/internal/render"
	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

// writeCommandError maps an editor or service error onto a status code.
func writeCommandError(w http.ResponseWriter, err error) {
	msg := timeline.UserMessage(err)
	switch {
	case errors.Is(err, timeline.ErrPolicyViolation):
		WriteError(w, http.StatusConflict, msg, "POLICY_VIOLATION")
	case errors.Is(err, timeline.ErrInvalidOperation), errors.Is(err, render.ErrEmptyTimeline):
		WriteError(w, http.StatusUnprocessableEntity, msg, "INVALID_OPERATION")
	case timeline.IsStale(err), errors.Is(err, catalog.ErrAssetNotFound), errors.Is(err, render.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, msg, "NOT_FOUND")
	case errors.Is(err, playback.ErrInvalidRate):
		WriteError(w, http.StatusBadRequest, msg, "BAD_REQUEST")
	case errors.Is(err, render.ErrNoEndpoint):
		WriteError(w, http.StatusServiceUnavailable, msg, "NOT_CONFIGURED")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// NewValidator returns a validator that reports fields by their JSON name.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	if v == nil {
		return true
	}
	if err := v.Struct(dst); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err), "BAD_REQUEST")
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
