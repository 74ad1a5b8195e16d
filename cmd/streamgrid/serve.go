package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/api"
	"github.com/Spatial-NVR/streamgrid/internal/config"
	"github.com/Spatial-NVR/streamgrid/internal/database"
	"github.com/Spatial-NVR/streamgrid/internal/events"
	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/logging"
	"github.com/Spatial-NVR/streamgrid/internal/metrics"
	"github.com/Spatial-NVR/streamgrid/internal/revisions"
	"github.com/Spatial-NVR/streamgrid/internal/streaming"
)

const logBufferSize = 1000

// serve runs the grid server until SIGINT or SIGTERM
func serve(configPath string) error {
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	buffer := logging.NewBuffer(logBufferSize)
	logger, err := logging.New(cfg.System.Logging.Level, cfg.System.Logging.Format, os.Stdout, buffer)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Starting stream grid",
		"version", version,
		"config_path", configPath,
		"listen", cfg.ListenAddr(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.System.StoragePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage path: %w", err)
	}

	db, err := database.Open(database.DefaultConfig(cfg.DatabasePath()))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	migrator := database.NewMigrator(db)
	if err := migrator.Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Database ready", "path", db.Path())

	revs := revisions.NewRepository(db, revisions.DefaultKeep)
	if last, err := revs.Latest(ctx); err == nil {
		slog.Info("Last recorded revision", "id", last.ID, "source", last.Source, "created_at", last.CreatedAt)
	}
	if _, err := revs.Record(ctx, revisions.SourceStart, cfg.Snapshot()); err != nil {
		slog.Warn("Failed to record startup revision", "error", err)
	}

	var (
		bus      *events.Bus
		notifier grid.Notifier
		relay    grid.PTZRelay
	)
	if cfg.EventBus.Enabled {
		bus, err = events.New(events.Config{Host: cfg.EventBus.Host, Port: cfg.EventBus.Port}, logger)
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		defer bus.Close()
		notifier = events.NewNotifier(bus)
		relay = events.NewPTZRelay(bus)
	}

	go2rtc := streaming.NewClient(cfg.Go2RTC.APIURL, cfg.Go2RTC.Retries)
	decoders := streaming.NewFactory(go2rtc)
	sweepCtx, cancelSweep := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := decoders.Sweep(sweepCtx); err != nil {
		logger.Warn("Failed to clean up leftover streams", "error", err)
	}
	cancelSweep()
	targets := streaming.NewTargetTable()
	hub := api.NewHub(targets)

	commits := newCommitter(cfg, revs, bus)
	commitCtx, stopCommits := context.WithCancel(context.Background())
	go commits.Run(commitCtx)

	ctrl, err := grid.New(grid.Options{
		Targets:  targets,
		Decoders: decoders,
		PTZ:      relay,
		Notifier: grid.NotifierFunc(func(n grid.Notification) {
			hub.Notify(n)
			if notifier != nil {
				notifier.Notify(n)
			}
		}),
		Logger:         logger,
		Initial:        cfg.Snapshot(),
		OnConfigChange: commits.Saved,
		OnStateChange:  hub.BroadcastState,
	})
	if err != nil {
		stopCommits()
		return fmt.Errorf("failed to create grid controller: %w", err)
	}
	hub.SetStreams(ctrl)

	cfg.OnChange(func(c *config.Config) {
		s := c.Snapshot()
		if err := ctrl.SetAuthoritative(ctx, s); err != nil {
			slog.Warn("Failed to apply reloaded configuration", "error", err)
			return
		}
		commits.Reloaded(s)
	})
	if err := cfg.Watch(ctx); err != nil {
		slog.Warn("Config hot reload disabled", "error", err)
	}

	go hub.Run(ctx)

	checks := map[string]api.HealthCheck{
		"database": db.Health,
		"go2rtc":   go2rtc.Ping,
		"migrations": func(ctx context.Context) error {
			v, err := migrator.Version(ctx)
			if err != nil {
				return err
			}
			if v == 0 {
				return errors.New("no migrations applied")
			}
			return nil
		},
	}
	if bus != nil {
		checks["event_bus"] = bus.Health
	}

	stats := metrics.New(ctrl)
	stats.WatchMounts(targets)

	router := api.NewRouter(api.RouterConfig{
		Grid:           api.NewGridHandler(ctrl, revs, go2rtc),
		Hub:            hub,
		Logs:           buffer,
		Health:         checks,
		Version:        version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        stats,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// The controller goes first so no save arrives after the committer drains
	_ = ctrl.Close()
	stopCommits()
	commits.Wait()
	cancel()

	slog.Info("Stream grid stopped")
	return runErr
}
