package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./trackline.db" {
			t.Errorf("expected database path ./trackline.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 8420 {
			t.Errorf("expected server port 8420, got %d", config.Server.Port)
		}
		if config.Progress.TTL() != time.Hour {
			t.Errorf("expected progress ttl 1h, got %v", config.Progress.TTL())
		}
		if config.Queue.Workers[QueueProcessing] != 2 {
			t.Errorf("expected 2 processing workers, got %d", config.Queue.Workers[QueueProcessing])
		}
		if config.Queue.JobTimeoutDuration() != 0 {
			t.Errorf("expected no job timeout by default, got %v", config.Queue.JobTimeoutDuration())
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nested", "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}
		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[queue]
broker = "kafka"
job_timeout_seconds = 90

[credentials.suno]
api_key = "from-file"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Server.BaseURL() != "http://127.0.0.1:8080" {
			t.Errorf("unexpected base url %s", config.Server.BaseURL())
		}
		if config.Queue.JobTimeoutDuration() != 90*time.Second {
			t.Errorf("expected 90s timeout, got %v", config.Queue.JobTimeoutDuration())
		}
		if config.Progress.TTLSeconds != 3600 {
			t.Errorf("missing sections should keep defaults, got ttl %d", config.Progress.TTLSeconds)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := CreateConfigFile(configPath); err != nil {
			t.Fatal(err)
		}

		t.Setenv("TRACKLINE_DB_PATH", "/env/db.sqlite")
		t.Setenv("TRACKLINE_SERVER_PORT", "9999")
		t.Setenv("TRACKLINE_DEBUG", "true")
		t.Setenv("TRACKLINE_KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("TRACKLINE_SUNO_API_KEY", "secret")

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/env/db.sqlite" {
			t.Errorf("expected env db path, got %s", config.Database.Path)
		}
		if config.Server.Port != 9999 || !config.Server.Debug {
			t.Errorf("expected env server overrides, got %+v", config.Server)
		}
		if len(config.Queue.KafkaBrokers) != 2 || config.Queue.KafkaBrokers[1] != "k2:9092" {
			t.Errorf("expected env kafka brokers, got %v", config.Queue.KafkaBrokers)
		}
		if config.Credentials.Suno.APIKey != "secret" {
			t.Errorf("expected env suno key, got %q", config.Credentials.Suno.APIKey)
		}
	})

	t.Run("invalid environment value", func(t *testing.T) {
		t.Setenv("TRACKLINE_SERVER_PORT", "not-a-port")
		if err := ApplyEnv(DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "youtube.json")

	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadToken(path); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, err := ReadToken(""); !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated for empty path, got %v", err)
		}
	})

	t.Run("write then read", func(t *testing.T) {
		if err := WriteToken(path, &oauth2.Token{AccessToken: "abc", RefreshToken: "def", TokenType: "Bearer"}); err != nil {
			t.Fatalf("failed to write token: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
		}

		token, err := ReadToken(path)
		if err != nil {
			t.Fatalf("failed to read token: %v", err)
		}
		if token.AccessToken != "abc" || token.RefreshToken != "def" {
			t.Errorf("unexpected token %+v", token)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadToken(path); err == nil || errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("expected a parse error, got %v", err)
		}
	})

	t.Run("write without path", func(t *testing.T) {
		if err := WriteToken("", &oauth2.Token{}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
