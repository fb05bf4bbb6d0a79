package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/clipdeck/clipdeck-agent/internal/storage"
)

// MediaServer streams stored asset bytes with byte-range support so media
// elements can seek.
type MediaServer struct {
	logger *slog.Logger
}

func NewMediaServer(logger *slog.Logger) *MediaServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaServer{logger: logger}
}

// Serve writes rc to w honouring a single Range header. The caller closes rc.
func (s *MediaServer) Serve(w http.ResponseWriter, r *http.Request, rc io.ReadSeeker, info storage.ObjectInfo) error {
	size := info.Size
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)
	if !info.ModTime.IsZero() {
		w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	}

	span, ranged, err := ParseSpan(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// A malformed Range header is ignored and the whole object is sent.
		ranged = false
	}

	body := io.Reader(rc)
	status := http.StatusOK
	length := size
	if ranged {
		if body, err = span.Section(rc); err != nil {
			return err
		}
		status = http.StatusPartialContent
		length = span.Len()
		w.Header().Set("Content-Range", span.ContentRange(size))
	}

	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Debug("media copy interrupted", "key", info.Key, "ranged", ranged, "error", err)
	}
	return nil
}
