package log

import (
	"testing"

	"arber/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Encoding: "json"})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Debug("logger is alive")
	_ = logger.Sync()
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "json"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_InvalidEncoding(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "info", Encoding: "yaml"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
