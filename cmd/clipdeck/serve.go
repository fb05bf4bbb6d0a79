package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/clipdeck/clipdeck-agent/internal/api"
	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/config"
	"github.com/clipdeck/clipdeck-agent/internal/db"
	"github.com/clipdeck/clipdeck-agent/internal/live"
	"github.com/clipdeck/clipdeck-agent/internal/logging"
	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
	"github.com/clipdeck/clipdeck-agent/internal/playback"
	"github.com/clipdeck/clipdeck-agent/internal/render"
	"github.com/clipdeck/clipdeck-agent/internal/session"
	"github.com/clipdeck/clipdeck-agent/internal/storage"
	"github.com/clipdeck/clipdeck-agent/internal/ui"
	"github.com/clipdeck/clipdeck-agent/internal/watcher"
)

// tickPublishInterval bounds how often playback ticks are pushed to clients.
const tickPublishInterval = 250 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cmd.Flags())
	},
}

func init() {
	bindServeFlags(serveCmd)
}

func bindServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("port", config.DefaultPort, "HTTP port on 127.0.0.1")
	f.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	f.String("data-dir", "", "data directory (default ~/"+config.DefaultDataDir+")")
	f.String("import-dir", "", "folder watched for new media")
	f.Bool("headless", false, "run without the system tray")
}

func runServe(ctx context.Context, flags *pflag.FlagSet) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()

	cfg, err := config.New(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger, logCloser := logging.NewLoggerWithOptions(logging.Options{
		Level: cfg.LogLevel(),
		File:  cfg.LogFile(),
	})
	defer logCloser.Close()
	logger.Info("starting clipdeck agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                   CLIPDECK AGENT v%-23s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("media storage ready", "backend", store.Backend())

	catalogSvc := catalog.NewService(repo, store, logger)

	var (
		prober pipeline.Prober
		doctor *pipeline.CachedDoctor
	)
	ffprobe, err := pipeline.NewFFprobe(cfg.FFprobePath(), cfg.ProbeTimeout(), logger)
	if err != nil {
		logger.Warn("ffprobe unavailable, clips keep the fallback duration", "error", err)
		prober = pipeline.NewStubProber(logger)
	} else {
		prober = ffprobe
		doctor = pipeline.NewCachedDoctor(ffprobe, logger)
		if caps, err := doctor.Refresh(ctx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("media tools detected", "ffprobe", caps.FFprobe, "version", caps.FFprobeVersion)
		}
	}

	runner := catalog.NewRunner(catalogSvc, repo, prober, doctor, logger)
	runner.SetPollInterval(cfg.ProbePollInterval())
	catalogSvc.SetWaker(runner)

	hub := live.NewHub(api.OriginChecker(cfg.AllowedOrigins()...), logger)
	sinks := live.NewSinks(hub, func(sourceRef string) string {
		return "/assets/" + url.PathEscape(sourceRef) + "/media?token=" + url.QueryEscape(authToken)
	})

	sess := session.New(session.Config{
		Video:            sinks.Video,
		Audio:            sinks.Audio,
		Text:             sinks.Overlay,
		Tolerance:        cfg.DriftTolerance(),
		Sources:          catalogSvc,
		FallbackDuration: cfg.FallbackDuration(),
		Logger:           logger,
	})

	hub.SetHandlers(live.Handlers{
		OnReport: func(r live.SinkReport) {
			if src := sinks.Apply(r); src != "" {
				if _, err := sess.SinkReady(r.Track, src); err != nil {
					logger.Warn("sink ready failed", "track", r.Track, "source", src, "error", err)
				}
			}
		},
		OnError: func(e live.SinkError) {
			logger.Warn("player reported an error", "track", e.Track, "source", e.Source, "message", e.Message)
		},
		OnConnect: func() []live.Message {
			sinks.Reset()
			view := sess.Resync()
			msg, err := live.NewMessage(live.MsgState, session.StateEvent{Reason: "connect", View: view})
			if err != nil {
				return nil
			}
			return []live.Message{msg}
		},
	})
	sess.Subscribe(newStatePublisher(hub).publish)

	var renderClient render.Client
	if endpoint := cfg.RenderEndpoint(); endpoint != "" {
		renderClient = render.NewHTTPClient(endpoint, logger)
		logger.Info("render submission enabled", "endpoint", endpoint)
	}
	renderSvc := render.NewService(repo, catalogSvc, renderClient, logger)
	renderSvc.SetPollInterval(cfg.RenderPollInterval())
	renderSvc.Subscribe(func(job *catalog.RenderJob) {
		hub.Publish(live.MsgRenderJob, job)
	})
	runner.OnProbed(func(asset *catalog.Asset) {
		hub.Publish(live.MsgAssets, api.AssetToResponse(asset))
	})

	go hub.Run(ctx)
	go runner.Start(ctx)
	go sess.Run(ctx, cfg.TickInterval())
	if err := renderSvc.Start(ctx); err != nil {
		logger.Warn("failed to resume render jobs", "error", err)
	}

	if dir := cfg.ImportDir(); dir != "" {
		w := watcher.NewFSWatcher(watcher.DefaultDebounce, logger)
		w.OnChange(watcher.ImportHandler(ctx, catalogSvc, logger))
		if err := w.Watch(ctx, dir); err != nil {
			logger.Warn("import folder not watched", "path", dir, "error", err)
		} else {
			defer w.Stop()
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Catalog:        catalogSvc,
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		Session:        sess,
		Render:         renderSvc,
		Hub:            hub,
		Media:          playback.NewMediaServer(logger),
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case err := <-serverErr:
			logger.Error("HTTP server error", "error", err)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Session: sess,
			Runner:  runner,
			Logger:  logger,
			OnQuit:  quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	renderSvc.Wait()

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	st := cfg.Storage()
	switch st.Backend {
	case config.StorageMinio:
		store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  st.MinioEndpoint,
			AccessKey: st.MinioAccessKey,
			SecretKey: st.MinioSecretKey,
			Bucket:    st.MinioBucket,
			UseSSL:    st.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open minio storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewFSStore(cfg.MediaDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open media dir: %w", err)
		}
		return store, nil
	}
}

func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	token := uuid.NewString()
	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

// statePublisher forwards session events to live clients. Playback ticks
// are rate limited; every other event goes out immediately.
type statePublisher struct {
	hub *live.Hub

	mu       sync.Mutex
	lastTick time.Time
}

func newStatePublisher(hub *live.Hub) *statePublisher {
	return &statePublisher{hub: hub}
}

func (p *statePublisher) publish(ev session.StateEvent) {
	if ev.Reason == "tick" {
		p.mu.Lock()
		now := time.Now()
		if now.Sub(p.lastTick) < tickPublishInterval {
			p.mu.Unlock()
			return
		}
		p.lastTick = now
		p.mu.Unlock()
	}
	p.hub.Publish(live.MsgState, ev)
}
