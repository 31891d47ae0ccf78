package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/anvil-lab/wg-limiterd/internal/config"
)

func TestNewProductionLoggerDoesNotError(t *testing.T) {
	logger, err := New("production", config.LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected a non-nil logger")
	}
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	logger, err := New("development", config.LogConfig{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected a non-nil logger")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) || logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected an unknown level to fall back to info")
	}
}
