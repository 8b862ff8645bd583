package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"slimtax/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slimtax.log")
	log := New(config.LogConfig{FilePath: path, Production: true})
	log.Info("gate redirect")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"gate redirect"`) {
		t.Fatalf("expected json entry in log file, got %s", data)
	}
}

func TestNewConsoleOnly(t *testing.T) {
	log := New(config.LogConfig{})
	if log == nil {
		t.Fatalf("expected logger")
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level enabled in development mode")
	}
}
