package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesJSON(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo, RotationConfig{})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info("cycle complete", "cycle", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "shepherd.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "cycle complete" {
		t.Errorf("expected msg 'cycle complete', got %v", entry["msg"])
	}
	if entry["cycle"] != float64(3) {
		t.Errorf("expected cycle=3, got %v", entry["cycle"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelWarn, RotationConfig{})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info("should be filtered")
	logger.Warn("should appear")
	logger.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "shepherd.log"))
	if strings.Contains(string(data), "should be filtered") {
		t.Error("INFO entry should have been filtered at WARN level")
	}
	if !strings.Contains(string(data), "should appear") {
		t.Error("WARN entry is missing")
	}
}

func TestLogger_ChildAttrs(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug, RotationConfig{})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithSession("sess-1").WithComponent("loop").WithCycle(7)
	child.Debug("tick")
	logger.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "shepherd.log"))
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("missing session_id attr: %v", entry)
	}
	if entry["component"] != "loop" {
		t.Errorf("missing component attr: %v", entry)
	}
	if entry["cycle"] != float64(7) {
		t.Errorf("missing cycle attr: %v", entry)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("NopLogger Close should be a no-op, got %v", err)
	}
}

func TestRotatingWriter_RecoversAfterFailedRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shepherd.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	// A failed rotation has already closed the file and left it nil; the
	// next write must reopen instead of erroring forever.
	rw.mu.Lock()
	rw.file.Close()
	rw.file = nil
	rw.mu.Unlock()

	if _, err := rw.Write([]byte("still logging\n")); err != nil {
		t.Fatalf("write after failed rotation: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "still logging") {
		t.Errorf("recovered write missing from log file: %q", data)
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := rw.Write([]byte("late\n")); err == nil {
		t.Error("write after Close should fail")
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shepherd.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := strings.Repeat("x", 512*1024)
	for i := 0; i < 5; i++ {
		if _, err := rw.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Error("expected first backup file after rotation")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("current log file missing: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("current log file exceeds limit: %d bytes", info.Size())
	}
}
