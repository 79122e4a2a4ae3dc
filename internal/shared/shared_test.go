package shared

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

func TestLogger(t *testing.T) {
	t.Run("NewLogger writes to the given writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "component", "test")
		logger.Info("hello", "track_id", 7)

		out := buf.String()
		for _, want := range []string{"hello", "component=test", "track_id=7"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in log output, got %q", want, out)
			}
		}
	})

	t.Run("NewLoggerFromConfig rotates into a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trackline.log")
		logger := NewLoggerFromConfig(LoggingConfig{Level: "warn", File: path, MaxSizeMB: 1, MaxBackups: 1})

		if logger.GetLevel() != log.WarnLevel {
			t.Errorf("expected warn level, got %v", logger.GetLevel())
		}

		logger.Warn("disk almost full")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected log file: %v", err)
		}
		if !strings.Contains(string(data), "disk almost full") {
			t.Errorf("log file missing entry: %q", data)
		}
	})
}

func TestParseLevel(t *testing.T) {
	tc := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{" WARN ", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"", log.InfoLevel},
		{"verbose", log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("expected a uuid, got %q", a)
	}
}

func TestBrowserCommand(t *testing.T) {
	orig := getRuntime
	defer func() { getRuntime = orig }()

	t.Run("uses BROWSER when set", func(t *testing.T) {
		t.Setenv("BROWSER", "firefox --new-tab")
		cmd, err := browserCommand("http://example.com")
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.Join(cmd.Args, " "); got != "firefox --new-tab http://example.com" {
			t.Errorf("unexpected args %q", got)
		}
	})

	t.Run("per platform", func(t *testing.T) {
		t.Setenv("BROWSER", "")
		tc := map[string]string{"darwin": "open", "linux": "xdg-open", "windows": "rundll32"}
		for rt, want := range tc {
			getRuntime = func() string { return rt }
			cmd, err := browserCommand("http://example.com")
			if err != nil {
				t.Fatalf("%s: %v", rt, err)
			}
			if cmd.Args[0] != want {
				t.Errorf("%s: expected %s, got %s", rt, want, cmd.Args[0])
			}
		}
	})

	t.Run("unsupported platform", func(t *testing.T) {
		t.Setenv("BROWSER", "")
		getRuntime = func() string { return "plan9" }
		if _, err := browserCommand("http://example.com"); err == nil {
			t.Error("expected error for unsupported platform")
		}
	})
}
