// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn := New(Options{
		Level:   "info",
		LogDir:  dir,
		Service: "test",
		Quiet:   true,
	})

	logger.Info("pipeline started", slog.String("request_id", "r1"))
	logger.Debug("filtered out")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	name := "test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %s", len(lines), data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if record["msg"] != "pipeline started" || record["service"] != "test" {
		t.Errorf("unexpected record: %v", record)
	}
	if record["request_id"] != "r1" {
		t.Errorf("attribute lost: %v", record)
	}
}

func TestNew_QuietWithoutFileStillUsable(t *testing.T) {
	logger, closeFn := New(Options{Quiet: true})
	defer closeFn()
	// Falls back to a stderr handler rather than a nil logger.
	logger.Info("still alive")
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h)

	logger.Info("only text")
	logger.Warn("both")

	if !strings.Contains(a.String(), "only text") || !strings.Contains(a.String(), "both") {
		t.Errorf("text handler missed records: %q", a.String())
	}
	if strings.Contains(b.String(), "only text") {
		t.Error("json handler should filter info records")
	}
	if !strings.Contains(b.String(), "both") {
		t.Errorf("json handler missed the warn record: %q", b.String())
	}

	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("multi handler should be enabled when any child is")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath: %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path must pass through: %q", got)
	}
}
