package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/config"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/logger"
	"github.com/videoforge/videoforge/internal/server"
	"github.com/videoforge/videoforge/internal/storage"
	"github.com/videoforge/videoforge/internal/transcoder"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "videoforge:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("VIDEOFORGE_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Logging)
	log := logger.Named("main")
	log.Info("starting videoforge",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.Type)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	paths := storage.NewPaths(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	if err := paths.Ensure(); err != nil {
		return fmt.Errorf("prepare storage directories: %w", err)
	}

	bus := events.NewBus(logger.Root())

	engine := transcoder.NewFFmpegEngine(logger.Root(), cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	store := transcoder.NewGormJobStore(db, logger.Root())
	coord := transcoder.NewCoordinator(store, engine, paths, bus, logger.Root(), transcoder.CoordinatorConfig{
		MaxConcurrent: cfg.Transcoder.MaxConcurrent,
		JobTimeout:    cfg.Transcoder.JobTimeout,
	})
	service := transcoder.NewService(store, coord, transcoder.OwnerOrAdminAuthorizer{}, bus, logger.Root())

	authMgr := auth.NewManager(db, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger.Root())
	if cfg.Auth.SeedDemoUsers {
		if err := authMgr.SeedDemoUsers(); err != nil {
			return fmt.Errorf("seed demo users: %w", err)
		}
	}

	if err := coord.Recover(context.Background()); err != nil {
		log.Error("job recovery failed", "error", err)
	}

	var monitor *storage.UploadMonitor
	if cfg.Storage.WatchUploads {
		monitor, err = storage.NewUploadMonitor(db, paths, bus, logger.Root())
		if err != nil {
			return fmt.Errorf("create upload monitor: %w", err)
		}
		if err := monitor.Start(); err != nil {
			return fmt.Errorf("start upload monitor: %w", err)
		}
	}

	router := server.SetupRouter(server.Deps{
		Config:  cfg,
		DB:      db,
		Service: service,
		Auth:    authMgr,
		Bus:     bus,
		Paths:   paths,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if monitor != nil {
		monitor.Stop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := coord.Shutdown(ctx); err != nil {
		log.Warn("transcoding jobs still running at shutdown deadline", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}
