package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024
	maxStdoutBytes = 1 << 20

	DefaultProbeTimeout = 30 * time.Second
)

var ErrNoDuration = errors.New("probe reported no duration")

// FFprobe shells out to the ffprobe binary.
type FFprobe struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFprobe resolves the binary. An empty path searches PATH.
func NewFFprobe(path string, timeout time.Duration, logger *slog.Logger) (*FFprobe, error) {
	if path == "" {
		path = "ffprobe"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFprobe{path: resolved, timeout: timeout, logger: logger}, nil
}

// Path returns the resolved binary.
func (f *FFprobe) Path() string { return f.path }

// Probe reads duration and stream info for input.
func (f *FFprobe) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result := f.exec(ctx,
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=codec_type,codec_name,width,height",
		"-of", "json",
		input,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbeOutput(result.Stdout)
}

// Version runs `ffprobe -version` and returns the first line.
func (f *FFprobe) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result := f.exec(ctx, "-version")
	if !result.IsSuccess() {
		return "", fmt.Errorf("ffprobe -version exited %d: %s", result.ExitCode, result.StderrTail)
	}
	line, _, _ := strings.Cut(string(result.Stdout), "\n")
	return strings.TrimSpace(line), nil
}

func (f *FFprobe) exec(ctx context.Context, args ...string) RunResult {
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stdout = &capWriter{w: &stdout, limit: maxStdoutBytes}
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderr, limit: maxStderrBytes})

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			if stderr.Len() == 0 {
				stderr.WriteString(err.Error())
			}
		}
	}

	if exitCode != 0 {
		f.logger.Warn("ffprobe failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderr.String(), 512),
		)
	} else {
		f.logger.Debug("ffprobe succeeded", "duration_ms", elapsed.Milliseconds())
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdout.Bytes(),
		StderrTail: stderr.String(),
		Duration:   elapsed,
	}
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{FormatName: out.Format.FormatName}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.VideoCodec == "" {
				res.VideoCodec = s.CodecName
				res.Width = s.Width
				res.Height = s.Height
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}

	if out.Format.Duration == "" || out.Format.Duration == "N/A" {
		return res, ErrNoDuration
	}
	d, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || d <= 0 {
		return res, ErrNoDuration
	}
	res.Duration = d
	return res, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// capWriter keeps the first `limit` bytes and drops the rest.
type capWriter struct {
	w     *bytes.Buffer
	limit int
}

func (cw *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := cw.limit - cw.w.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		cw.w.Write(p)
	}
	return n, nil
}
