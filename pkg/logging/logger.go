// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured logger used across matchlens.
//
// The default is a text handler on stderr, which keeps the CLI friendly
// to pipes and terminals alike. Setting LogDir adds a JSON log file named
// {service}_{date}.log so serve mode leaves a machine-parseable trail.
// Components receive the result as a plain *slog.Logger; nothing in the
// codebase depends on this package beyond construction.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options configure New. The zero value logs Info+ to stderr as text.
type Options struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Unknown values fall back to "info".
	Level string

	// Format is the stderr format: "text" or "json". File output is
	// always JSON.
	Format string

	// LogDir enables file logging into the given directory, created if
	// absent. Supports a leading ~.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Quiet drops the stderr handler; useful when only the file trail
	// matters.
	Quiet bool
}

// New builds a logger per opts and returns it with a close function for
// the log file, if one was opened. The close function is never nil.
func New(opts Options) (*slog.Logger, func() error) {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var handlers []slog.Handler
	if !opts.Quiet {
		if opts.Format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, handlerOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, handlerOpts))
		}
	}

	closeFn := func() error { return nil }
	if opts.LogDir != "" {
		if file, err := openLogFile(opts.LogDir, opts.Service); err == nil {
			handlers = append(handlers, slog.NewJSONHandler(file, handlerOpts))
			closeFn = func() error {
				if err := file.Sync(); err != nil {
					file.Close()
					return err
				}
				return file.Close()
			}
		}
		// A failed file open degrades to stderr-only.
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if opts.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", opts.Service)})
	}
	return slog.New(handler), closeFn
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "matchlens"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// multiHandler fans one record out to several handlers, so stderr can
// stay text while the file stays JSON.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
