// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// matchlens answers natural-language questions about SMITE 2 match logs,
// with every answer checked against the data it came from.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/matchlens/pkg/logging"
	"github.com/AleutianAI/matchlens/services/analyst"
	"github.com/AleutianAI/matchlens/services/analyst/config"
)

var (
	configPath string
	dbPath     string
	strictMode bool
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "matchlens",
		Short: "Ask questions about a SMITE 2 match database",
		Long: `matchlens runs a guarded analysis pipeline over a match event log:
questions are planned into read-only SQL, executed, analyzed, and composed
into an answer that is validated against the actual query results.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the match database (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&strictMode, "strict", false, "escalate guardrail failures to request failures")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug|info|warn|error)")

	rootCmd.AddCommand(askCmd, schemaCmd, serveCmd)
}

// loadConfig resolves the effective configuration from the config file
// and the command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if strictMode {
		cfg.Guardrails.StrictMode = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// buildService wires a service for one command invocation. The returned
// cleanup closes the service and flushes the log file.
func buildService(service string) (*analyst.Service, *slog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, closeLog := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: service,
	})

	svc, err := analyst.New(cfg, nil, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		svc.Close()
		closeLog()
	}
	return svc, logger, cleanup, nil
}
