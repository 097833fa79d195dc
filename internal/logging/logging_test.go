package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/ragindex/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriters_FansOut(t *testing.T) {
	t.Parallel()
	var console, file bytes.Buffer

	log := NewWithWriters(&console, &file, config.LoggingConfig{Level: "info", Format: "text"})
	log.Info("indexed", slog.Int("chunks", 120))
	log.Debug("hidden")

	if !strings.Contains(console.String(), "chunks=120") {
		t.Errorf("console: want text record, got %q", console.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(file.Bytes()), &rec); err != nil {
		t.Fatalf("file: want one JSON record, got %q: %v", file.String(), err)
	}
	if rec["msg"] != "indexed" {
		t.Errorf("file msg: got %v, want indexed", rec["msg"])
	}
	if strings.Contains(file.String(), "hidden") {
		t.Error("debug record should be filtered at info level")
	}
}

func TestNew_FileOpenError(t *testing.T) {
	t.Parallel()
	bad := filepath.Join(t.TempDir(), "missing-dir", "ragindex.log")

	log, closeFn, err := New(config.LoggingConfig{File: bad})
	if err == nil {
		t.Fatal("expected error for unwritable log file")
	}
	if log == nil || closeFn == nil {
		t.Fatal("logger and close func must be usable even on error")
	}
	_ = closeFn()
}

func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default when no logger is stored")
	}

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("expected stored logger")
	}
}
