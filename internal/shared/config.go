package shared

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TRACKLINE_"

// Queue names used by the dispatcher and its workers.
const (
	QueueProcessing = "processing"
	QueueUploads    = "uploads"
	QueueImports    = "imports"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Queue       QueueConfig       `toml:"queue"`
	Progress    ProgressConfig    `toml:"progress"`
	Media       MediaConfig       `toml:"media"`
	Credentials CredentialsConfig `toml:"credentials"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string   `toml:"host" env:"SERVER_HOST"`
	Port        int      `toml:"port" env:"SERVER_PORT"`
	Debug       bool     `toml:"debug" env:"DEBUG"`
	CORSOrigins []string `toml:"cors_origins" env:"CORS_ORIGINS"`
}

// Addr returns the host:port the API listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL is the URL the CLI uses to reach the API.
func (s ServerConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"DB_PATH"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoggingConfig selects the log level and an optional rotated log file.
type LoggingConfig struct {
	Level      string `toml:"level" env:"LOG_LEVEL"`
	File       string `toml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// QueueConfig configures the broker and the worker pools per queue.
type QueueConfig struct {
	Broker           string         `toml:"broker" env:"QUEUE_BROKER"`
	Workers          map[string]int `toml:"workers"`
	MaxAttempts      int            `toml:"max_attempts"`
	JobTimeout       int            `toml:"job_timeout_seconds"`
	ReconcileSeconds int            `toml:"reconcile_interval_seconds"`
	KafkaBrokers     []string       `toml:"kafka_brokers" env:"KAFKA_BROKERS"`
	TopicPrefix      string         `toml:"topic_prefix"`
	GroupID          string         `toml:"group_id"`
}

// JobTimeoutDuration returns the per-job timeout; zero disables it.
func (q QueueConfig) JobTimeoutDuration() time.Duration {
	return time.Duration(q.JobTimeout) * time.Second
}

// ReconcileInterval returns how often pending tracks without a job are swept.
func (q QueueConfig) ReconcileInterval() time.Duration {
	if q.ReconcileSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(q.ReconcileSeconds) * time.Second
}

// ProgressConfig selects the progress record backend.
type ProgressConfig struct {
	Backend    string `toml:"backend" env:"PROGRESS_BACKEND"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// TTL returns the lifetime of a progress record.
func (p ProgressConfig) TTL() time.Duration {
	if p.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(p.TTLSeconds) * time.Second
}

// MediaConfig points at the media root and the ffmpeg binary.
type MediaConfig struct {
	Root   string `toml:"root" env:"MEDIA_ROOT"`
	FFmpeg string `toml:"ffmpeg"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Suno    SunoConfig    `toml:"suno"`
	YouTube YouTubeConfig `toml:"youtube"`
	Feed    FeedConfig    `toml:"feed"`
}

// SunoConfig contains the Suno API endpoint and key.
type SunoConfig struct {
	BaseURL string `toml:"base_url" env:"SUNO_BASE_URL"`
	APIKey  string `toml:"api_key" env:"SUNO_API_KEY"`
}

// YouTubeConfig contains YouTube Data API OAuth client settings.
type YouTubeConfig struct {
	ClientID     string `toml:"client_id" env:"YOUTUBE_CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"YOUTUBE_CLIENT_SECRET"`
	RedirectURI  string `toml:"redirect_uri"`
	TokenFile    string `toml:"token_file" env:"YOUTUBE_TOKEN_FILE"`
	Privacy      string `toml:"privacy"`
	UploadURL    string `toml:"upload_url"`
}

// FeedConfig configures JSON feed fetching.
type FeedConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults and environment variables override both.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays TRACKLINE_* environment variables onto config.
func ApplyEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ReadToken loads an OAuth token from a JSON file.
func ReadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, ErrNotAuthenticated
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthenticated
	} else if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &token, nil
}

// WriteToken stores an OAuth token as JSON, readable only by the owner.
func WriteToken(path string, token *oauth2.Token) error {
	if path == "" {
		return fmt.Errorf("%w: youtube token_file is not set", ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
