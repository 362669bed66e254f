package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Type       string `yaml:"type"` // sqlite or postgres
	Path       string `yaml:"path"` // sqlite file path
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	LogQueries bool   `yaml:"log_queries"`
}

// StorageConfig holds file storage locations and limits.
type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	OutputDir      string `yaml:"output_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	WatchUploads   bool   `yaml:"watch_uploads"`
}

// TranscoderConfig holds orchestrator tuning knobs.
type TranscoderConfig struct {
	// MaxConcurrent bounds simultaneous engine invocations. Zero disables
	// the bound, matching the original unbounded behavior.
	MaxConcurrent int `yaml:"max_concurrent"`

	// JobTimeout force-fails a job whose engine invocation exceeds the
	// deadline. Zero disables the timeout.
	JobTimeout time.Duration `yaml:"job_timeout"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SeedDemoUsers bool          `yaml:"seed_demo_users"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Default returns the default application configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Path:     "./data/videoforge.db",
			Host:     "localhost",
			Port:     5432,
			Username: "videoforge",
			Database: "videoforge",
		},
		Storage: StorageConfig{
			UploadDir:      "./data/uploads",
			OutputDir:      "./data/outputs",
			MaxUploadBytes: 100 * 1024 * 1024, // 100MB
			WatchUploads:   true,
		},
		Transcoder: TranscoderConfig{
			MaxConcurrent: 4,
			JobTimeout:    2 * time.Hour,
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			TokenTTL:      24 * time.Hour,
			SeedDemoUsers: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML file (optional) and applies
// environment overrides, then installs it as the process-wide config.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}

// Get returns the current configuration, loading defaults if Load was
// never called.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = Default()
		applyEnvOverrides(current)
	}
	return current
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be sqlite or postgres, got %q", c.Database.Type)
	}
	if c.Transcoder.MaxConcurrent < 0 {
		return fmt.Errorf("transcoder.max_concurrent must not be negative")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "VIDEOFORGE_HOST")
	setInt(&cfg.Server.Port, "VIDEOFORGE_PORT")
	setString(&cfg.Database.Type, "DATABASE_TYPE")
	setString(&cfg.Database.Path, "SQLITE_PATH")
	setString(&cfg.Database.Host, "POSTGRES_HOST")
	setInt(&cfg.Database.Port, "POSTGRES_PORT")
	setString(&cfg.Database.Username, "POSTGRES_USER")
	setString(&cfg.Database.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Database.Database, "POSTGRES_DB")
	setString(&cfg.Storage.UploadDir, "VIDEOFORGE_UPLOAD_DIR")
	setString(&cfg.Storage.OutputDir, "VIDEOFORGE_OUTPUT_DIR")
	setInt64(&cfg.Storage.MaxUploadBytes, "VIDEOFORGE_MAX_UPLOAD_BYTES")
	setInt(&cfg.Transcoder.MaxConcurrent, "VIDEOFORGE_MAX_CONCURRENT")
	setDuration(&cfg.Transcoder.JobTimeout, "VIDEOFORGE_JOB_TIMEOUT")
	setString(&cfg.Transcoder.FFmpegPath, "FFMPEG_PATH")
	setString(&cfg.Transcoder.FFprobePath, "FFPROBE_PATH")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
