package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ConsoleFormatBuildsSuccessfully(t *testing.T) {
	log, err := NewLogger(Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Sync()

	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestNewLogger_JSONFormatBuildsSuccessfully(t *testing.T) {
	log, err := NewLogger(Config{Level: "info", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Sync()

	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be disabled at info level")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
}

func TestNewLogger_UnparsableLevelDefaultsToInfo(t *testing.T) {
	log, err := NewLogger(Config{Level: "not-a-level", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Sync()

	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected an unparsable level to fall back to info, not debug")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level to be enabled by default")
	}
}
