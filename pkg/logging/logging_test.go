package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json", Output: &buf})

	logger.Info("index_loaded", "entries", 42)

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "index_loaded" {
		t.Errorf("Expected msg 'index_loaded', got %v", line["msg"])
	}
	if line["entries"] != float64(42) {
		t.Errorf("Expected entries 42, got %v", line["entries"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("Warn line missing: %q", out)
	}
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "chatty", Output: &buf})

	logger.Debug("debug_line")
	logger.Info("info_line")

	if strings.Contains(buf.String(), "debug_line") {
		t.Error("Debug should be filtered when level falls back to info")
	}
	if !strings.Contains(buf.String(), "info_line") {
		t.Error("Info line missing")
	}
}
