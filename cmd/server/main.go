package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clipforge/clipforge/internal/api"
	"github.com/clipforge/clipforge/internal/artifacts"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/export"
	"github.com/clipforge/clipforge/internal/logging"
	"github.com/clipforge/clipforge/internal/platform"
	"github.com/clipforge/clipforge/internal/render"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional; env vars win over .env entries.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir(), 0755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ArtifactsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipforge server",
		"version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := render.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api ready",
		"url", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()),
		"auth_token", logging.SanitizeToken(authToken))

	var engine compositor.Engine
	ffmpeg, err := compositor.NewFFmpegEngine(compositor.Config{
		FFmpegPath: cfg.FFmpegPath(),
		WorkDir:    cfg.WorkDir(),
		OutputDir:  cfg.ArtifactsDir(),
		Profile:    cfg.Profile(),
		Logger:     logger,
	})
	if err != nil {
		logger.Warn("ffmpeg unavailable, rendering with stub engine", "error", err)
		engine = compositor.NewStubEngine(cfg.ArtifactsDir(), logger)
	} else {
		engine = ffmpeg
	}

	manager := render.NewManager(repo, engine, logging.WithComponent(logger, "render"),
		cfg.RenderWorkers(), cfg.RenderTimeout())

	adapters := []platform.Adapter{
		platform.NewYouTubeAdapter(logger),
		platform.NewFacebookAdapter(logger),
		platform.NewTikTokAdapter(logger),
	}
	exportRepo := export.NewRepository(database.Conn())
	coordinator := export.NewCoordinator(exportRepo, repo, adapters,
		logging.WithComponent(logger, "export"),
		cfg.UploadAttempts(), cfg.UploadTimeout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Manager:     manager,
		Repository:  repo,
		Coordinator: coordinator,
		Artifacts:   artifacts.NewServer(logger),
		Logger:      logger,
		StartTime:   startTime,
		Version:     config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	coordinator.Wait()

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo render.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
