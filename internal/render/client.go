// Package render hands a timeline to the remote ffmpeg render service and
// tracks the job until it completes.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck-agent/internal/export"
)

// AssetUpload names an asset the service should expect.
type AssetUpload struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

type CreateJobRequest struct {
	Assets   []AssetUpload           `json:"assets"`
	Timeline export.DecisionTimeline `json:"timeline"`
}

type UploadURL struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type CreateJobResponse struct {
	JobID      string      `json:"jobId"`
	UploadURLs []UploadURL `json:"uploadUrls"`
}

// URLFor returns the upload URL for key, or "" when the service sent none.
func (r *CreateJobResponse) URLFor(key string) string {
	for _, u := range r.UploadURLs {
		if u.Key == key {
			return u.URL
		}
	}
	return ""
}

// JobStatus is one poll of a remote job.
type JobStatus struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	DownloadURL string  `json:"downloadUrl"`
	LogURL      string  `json:"logUrl"`
	Error       string  `json:"error"`
}

// Percent is the progress rounded and bounded to 0..100.
func (s *JobStatus) Percent() int {
	p := int(math.Round(s.Progress))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Client talks to the render service.
type Client interface {
	CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error)
	Upload(ctx context.Context, url string, body io.Reader, size int64, contentType string) error
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
}

// APIError is a non-2xx answer from the render service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("render service: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are
// permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// HTTPClient speaks the render service's JSON protocol.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(endpoint string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

func (c *HTTPClient) Endpoint() string { return c.endpoint }

func (c *HTTPClient) CreateJob(ctx context.Context, payload CreateJobRequest) (*CreateJobResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	url := c.endpoint + "/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	c.logger.Info("requesting render job",
		"url", url,
		"asset_count", len(payload.Assets),
		"body_bytes", len(body),
	)

	var out CreateJobResponse
	if err := c.doJSON(req, "Export failed", &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		return nil, fmt.Errorf("render service returned no job id")
	}
	return &out, nil
}

func (c *HTTPClient) Upload(ctx context.Context, url string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(detail))}
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var out JobStatus
	if err := c.doJSON(req, "Job failed", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) doJSON(req *http.Request, fallback string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := fallback
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
