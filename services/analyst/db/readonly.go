// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package db

import (
	"fmt"
	"regexp"
	"strings"
)

// deniedStatements are statement keywords the gate rejects outright. The
// store is opened read-only as well; this gate exists so a hostile query
// fails with a clear reason before it ever reaches the driver.
var deniedStatements = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE",
	"ATTACH", "DETACH", "TRUNCATE", "REINDEX", "REPLACE",
	"GRANT", "REVOKE", "VACUUM", "PRAGMA",
}

var (
	selectShape     = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	deniedWordPats  = compileDenied()
	lineCommentPat  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPat = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func compileDenied() []*regexp.Regexp {
	pats := make([]*regexp.Regexp, len(deniedStatements))
	for i, kw := range deniedStatements {
		pats[i] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return pats
}

// GateQuery validates that a query is a single read-only SELECT (or CTE)
// statement.
//
// Description:
//
//	Comments are stripped before inspection so a denied keyword cannot
//	hide in one and a commented-out keyword cannot cause a false
//	positive. String literals are not parsed; a literal containing
//	"DELETE" will be rejected. That false positive is accepted: the
//	queries this store sees are machine-generated and never need such
//	literals.
//
// Outputs:
//
//	error - ErrUnsafeQuery (wrapped with the reason) or nil.
func GateQuery(query string) error {
	stripped := blockCommentPat.ReplaceAllString(query, " ")
	stripped = lineCommentPat.ReplaceAllString(stripped, " ")
	trimmed := strings.TrimSpace(stripped)

	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}
	if !selectShape.MatchString(trimmed) {
		return fmt.Errorf("%w: only SELECT statements are allowed", ErrUnsafeQuery)
	}
	if n := strings.Count(trimmed, ";"); n > 1 || (n == 1 && !strings.HasSuffix(trimmed, ";")) {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrUnsafeQuery)
	}
	for i, p := range deniedWordPats {
		if p.MatchString(trimmed) {
			return fmt.Errorf("%w: forbidden keyword %s", ErrUnsafeQuery, deniedStatements[i])
		}
	}
	return nil
}
