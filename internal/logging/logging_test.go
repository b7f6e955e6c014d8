package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewParsesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "DEBUG")
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %v", logger.GetLevel())
	}

	logger.Debug("tier changed", "to", "REST")
	if !strings.Contains(buf.String(), "tier changed") || !strings.Contains(buf.String(), "to=REST") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "chatty")
	if logger.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info level, got %v", logger.GetLevel())
	}
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output should be suppressed, got %q", buf.String())
	}
}
