package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestNewUsesConfiguredLevel verifies the level comes from the argument, not
// the process environment.
func TestNewUsesConfiguredLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	lg := New("test", "debug")
	if got := lg.Logger.GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("level = %s, want debug", got)
	}
}

// TestNewDefaultsToInfo verifies unknown level strings fall back to info.
func TestNewDefaultsToInfo(t *testing.T) {
	lg := New("test", "verbose")
	if got := lg.Logger.GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("level = %s, want info", got)
	}
}
