package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/live"
	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
	"github.com/clipdeck/clipdeck-agent/internal/session"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 4 << 30

// RenderService submits timelines to the render backend.
type RenderService interface {
	Configured() bool
	Submit(ctx context.Context, dl export.DecisionList, totalDuration float64) (*catalog.RenderJob, error)
	Get(ctx context.Context, id string) (*catalog.RenderJob, error)
	List(ctx context.Context, limit int) ([]*catalog.RenderJob, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Catalog        catalog.CatalogService
	Repository     catalog.Repository
	Runner         *catalog.Runner
	Doctor         *pipeline.CachedDoctor
	Session        *session.Session
	Render         RenderService
	Hub            *live.Hub
	Media          *playback.MediaServer
	Validate       *validator.Validate
	AllowedOrigins []string
	MaxUploadBytes int64
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
