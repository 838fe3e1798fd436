// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package db provides read-only access to a match event-log SQLite file:
// a gated SELECT executor, schema introspection, and a cached schema
// layer used to build SQL allow-lists.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a read-only connection to one event-log database.
//
// Thread Safety: Safe for concurrent use; database/sql pools connections
// internally.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool
}

// Open opens the event-log database at path read-only.
//
// Description:
//
//	The file must already exist; an analysis store never creates its
//	subject. The connection is opened with mode=ro and query_only so
//	writes are refused at the driver level even if a statement slips
//	past the gate.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
	}

	dsn := "file:" + path + "?mode=ro&_pragma=query_only(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Debug("event-log database opened",
		slog.String("path", path),
	)
	return &Store{db: conn, path: path, logger: logger}, nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string { return s.path }

// ExecuteSelect runs one gated SELECT and materializes its rows.
//
// Description:
//
//	Every query passes GateQuery first. Rows come back as ordered
//	column->value maps so downstream stages can work with them without
//	knowing result shapes up front. Integer columns surface as int64,
//	REAL as float64, TEXT as string, NULL as nil.
//
// Inputs:
//
//	ctx - Context for cancellation and deadline. Must not be nil.
//	query - A single SELECT or WITH statement.
//	args - Bound parameters.
//
// Outputs:
//
//	[]map[string]any - Materialized rows.
//	time.Duration - Query wall time.
//	error - Gate rejection, driver error, or scan error.
func (s *Store) ExecuteSelect(ctx context.Context, query string, args ...any) ([]map[string]any, time.Duration, error) {
	if ctx == nil {
		return nil, 0, ErrNilContext
	}
	if s.closed {
		return nil, 0, ErrStoreClosed
	}
	if err := GateQuery(query); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, time.Since(start), fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, time.Since(start), fmt.Errorf("reading columns: %w", err)
	}

	var result []map[string]any
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, time.Since(start), fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeCell(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Since(start), fmt.Errorf("iterating rows: %w", err)
	}

	elapsed := time.Since(start)
	s.logger.Debug("query executed",
		slog.String("path", s.path),
		slog.Int("rows", len(result)),
		slog.Duration("duration", elapsed),
	)
	return result, elapsed, nil
}

// normalizeCell converts driver values to the small set of types the
// pipeline works with.
func normalizeCell(v any) any {
	switch cell := v.(type) {
	case []byte:
		return string(cell)
	default:
		return cell
	}
}

// Close releases the connection pool. Safe to call twice.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
