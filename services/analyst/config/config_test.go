// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matchlens.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /data/match.db
pipeline:
  timeout_seconds: 30
guardrails:
  strict_mode: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/data/match.db" {
		t.Errorf("database path: %q", cfg.Database.Path)
	}
	if cfg.Pipeline.Timeout() != 30*time.Second {
		t.Errorf("timeout: %v", cfg.Pipeline.Timeout())
	}
	if !cfg.Guardrails.StrictMode {
		t.Error("strict mode should be enabled")
	}
	// Untouched fields keep defaults.
	if cfg.Model.Model != "gpt-4o-mini" {
		t.Errorf("model default lost: %q", cfg.Model.Model)
	}
	if !cfg.Guardrails.RoundingForgiveness {
		t.Error("rounding forgiveness default lost")
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad log level":     "logging:\n  level: loud\n",
		"bad model type":    "model:\n  type: carrier-pigeon\n",
		"zero timeout":      "pipeline:\n  timeout_seconds: 0\n",
		"tolerance too big": "guardrails:\n  tolerance: 2.0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Server.ListenAddr == "" || cfg.Logging.Level != "info" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
