package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"MedicineCrawler/internal/config"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"info":    slog.LevelInfo,
		"":        slog.LevelDebug,
		"verbose": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConsoleOnly(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, closer := newLogger(&buf, config.LoggingConfig{Level: "warn"})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "keyword", "타이레놀")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "keyword=타이레놀") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestFileReceivesJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "crawler.log")
	var console bytes.Buffer
	logger, closer := newLogger(&console, config.LoggingConfig{Level: "info", File: path})

	logger.With("component", "pipeline").Info("run finished", "fetched", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "run finished" || entry["component"] != "pipeline" || entry["service"] != "medicine-crawler" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if !strings.Contains(console.String(), "run finished") {
		t.Fatalf("console missed the record")
	}
}
