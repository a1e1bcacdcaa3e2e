// Package config provides configuration management for the clipforge server.
// Configuration is loaded from environment variables with sensible defaults,
// plus an optional YAML render profile for visual settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort           = 8585
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".clipforge"
	DefaultRenderWorkers  = 2
	DefaultRenderTimeoutS = 1800 // 30 minutes per render
	DefaultUploadAttempts = 4
	DefaultUploadTimeoutS = 300 // 5 minutes per upload attempt

	// Environment variable names
	EnvPort           = "CLIPFORGE_PORT"
	EnvLogLevel       = "CLIPFORGE_LOG_LEVEL"
	EnvDataDir        = "CLIPFORGE_DATA_DIR"
	EnvRenderWorkers  = "CLIPFORGE_RENDER_WORKERS"
	EnvRenderTimeoutS = "CLIPFORGE_RENDER_TIMEOUT_S"
	EnvUploadAttempts = "CLIPFORGE_UPLOAD_ATTEMPTS"
	EnvUploadTimeoutS = "CLIPFORGE_UPLOAD_TIMEOUT_S"
	EnvFFmpegPath     = "CLIPFORGE_FFMPEG_PATH"
	EnvProfilePath    = "CLIPFORGE_PROFILE"

	// Database filename
	DBFilename = "clipforge.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	WorkDir() string
	ArtifactsDir() string
	RenderWorkers() int
	RenderTimeout() time.Duration
	UploadAttempts() int
	UploadTimeout() time.Duration
	FFmpegPath() string
	Profile() *RenderProfile
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	renderWorkers  int
	renderTimeoutS int
	uploadAttempts int
	uploadTimeoutS int
	ffmpegPath     string
	profile        *RenderProfile
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		renderWorkers:  DefaultRenderWorkers,
		renderTimeoutS: DefaultRenderTimeoutS,
		uploadAttempts: DefaultUploadAttempts,
		uploadTimeoutS: DefaultUploadTimeoutS,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if w := os.Getenv(EnvRenderWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRenderWorkers, err)
		}
		if workers < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvRenderWorkers)
		}
		cfg.renderWorkers = workers
	}

	if t := os.Getenv(EnvRenderTimeoutS); t != "" {
		seconds, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRenderTimeoutS, err)
		}
		cfg.renderTimeoutS = seconds
	}

	if a := os.Getenv(EnvUploadAttempts); a != "" {
		attempts, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvUploadAttempts, err)
		}
		if attempts < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvUploadAttempts)
		}
		cfg.uploadAttempts = attempts
	}

	if t := os.Getenv(EnvUploadTimeoutS); t != "" {
		seconds, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvUploadTimeoutS, err)
		}
		cfg.uploadTimeoutS = seconds
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)

	profile, err := LoadProfile(os.Getenv(EnvProfilePath))
	if err != nil {
		return nil, fmt.Errorf("invalid render profile: %w", err)
	}
	cfg.profile = profile

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkDir returns the directory for intermediate render files
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// ArtifactsDir returns the directory for finished render artifacts
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// RenderWorkers returns the render worker pool size
func (c *EnvConfig) RenderWorkers() int {
	return c.renderWorkers
}

// RenderTimeout returns the wall-clock ceiling for a single render
func (c *EnvConfig) RenderTimeout() time.Duration {
	return time.Duration(c.renderTimeoutS) * time.Second
}

// UploadAttempts returns the retry ceiling for a single platform target
func (c *EnvConfig) UploadAttempts() int {
	return c.uploadAttempts
}

// UploadTimeout returns the per-attempt timeout for a platform upload
func (c *EnvConfig) UploadTimeout() time.Duration {
	return time.Duration(c.uploadTimeoutS) * time.Second
}

// FFmpegPath returns the configured ffmpeg binary path; empty = auto-detect
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// Profile returns the loaded render profile
func (c *EnvConfig) Profile() *RenderProfile {
	return c.profile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
