// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package db

import "errors"

var (
	// ErrDatabaseNotFound is returned when the event-log file does not
	// exist at the configured path.
	ErrDatabaseNotFound = errors.New("db: database file not found")

	// ErrUnsafeQuery is returned by the statement gate for anything that
	// is not a single read-only SELECT.
	ErrUnsafeQuery = errors.New("db: query rejected by read-only gate")

	// ErrNilContext is returned when a nil context is passed to a store
	// method.
	ErrNilContext = errors.New("db: context must not be nil")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("db: store is closed")
)
