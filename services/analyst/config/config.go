// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the analyst service configuration
// from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full analyst service configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Model      ModelConfig      `yaml:"model"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig points at the match event database.
type DatabaseConfig struct {
	// Path is the SQLite match database. Required for ask/serve; the
	// CLI can also take it per invocation.
	Path string `yaml:"path"`

	// SchemaCacheDir persists introspected schemas between runs. Empty
	// keeps the cache in memory only.
	SchemaCacheDir string `yaml:"schema_cache_dir"`
}

// ModelConfig selects and throttles the language model backend.
type ModelConfig struct {
	// Type can be "openai" or "mock" (tests and dry runs).
	Type string `yaml:"type" validate:"oneof=openai mock"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestsPerSecond rate-limits calls to the backend; <= 0 disables
	// throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PipelineConfig tunes the staged pipeline.
type PipelineConfig struct {
	// TimeoutSeconds is the global deadline for one question.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`

	// MaxConcurrentQueries caps the sub-query fan-out.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" validate:"gte=0"`
}

// GuardrailsConfig tunes the fact-fidelity validators.
type GuardrailsConfig struct {
	// Tolerance is the relative tolerance for numeric claims.
	Tolerance float64 `yaml:"tolerance" validate:"gte=0,lte=1"`

	StrictMode          bool `yaml:"strict_mode"`
	RoundingForgiveness bool `yaml:"rounding_forgiveness"`
}

// ServerConfig configures the HTTP serve mode.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Timeout returns the pipeline deadline as a duration.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Type:              "openai",
			Model:             "gpt-4o-mini",
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Pipeline: PipelineConfig{
			TimeoutSeconds:       120,
			MaxConcurrentQueries: 4,
		},
		Guardrails: GuardrailsConfig{
			Tolerance:           0.05,
			RoundingForgiveness: true,
		},
		Server: ServerConfig{
			ListenAddr: ":8095",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

var validate = validator.New()

// Load reads a YAML config file over the defaults and validates the
// result. Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it is non-empty and falls back to the
// defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, nil
	}
	return Load(path)
}
