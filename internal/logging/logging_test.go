package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afrd.log")
	log := New(Config{File: path, Level: int8(LevelDebug)})

	log.Info("starting up", "version", "test")
	log.Debug("tick")
	log.Warning("hdmi unplugged")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestSetLevelSuppressesVerboseLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afrd.log")
	log := New(Config{File: path, Level: int8(LevelInfo)})
	log.SetLevel(int8(LevelError))

	// Should not panic or error even though Debug/Info are now suppressed.
	log.Debug("should be suppressed")
	log.Info("should be suppressed too")
	log.Error("should still be logged")
}
