// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// SQLValidator validates generated SQL and the text describing its
// results.
//
// This is the guardrail for the SQL-execution stage. It rejects query text
// containing destructive keywords, non-SELECT statements, and references
// to tables or columns outside the schema allow-list, and it checks the
// stage's prose against the numeric values the query actually returned.
//
// Thread Safety: Safe for concurrent use after construction.
type SQLValidator struct {
	*Validator
	forbidden []string
	tables    []string
	columns   map[string][]string
}

var (
	fromTablePattern   = regexp.MustCompile(`(?i)FROM\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	joinTablePattern   = regexp.MustCompile(`(?i)JOIN\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	qualifiedColPat    = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)`)
	pragmaPattern      = regexp.MustCompile(`(?i)\bPRAGMA\s*([a-zA-Z_]*)`)
	leadingSelectOrCTE = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
)

// NewSQLValidator creates the SQL-result validator.
//
// Inputs:
//
//	base - Base validator configuration.
//	cfg - SQL-specific configuration; empty keyword list uses defaults.
//	logger - Logger; nil uses slog.Default().
func NewSQLValidator(base Config, cfg SQLConfig, logger *slog.Logger) *SQLValidator {
	if len(cfg.ForbiddenKeywords) == 0 {
		cfg.ForbiddenKeywords = DefaultSQLConfig().ForbiddenKeywords
	}
	return &SQLValidator{
		Validator: NewValidator("sql_validator", base, logger),
		forbidden: cfg.ForbiddenKeywords,
		tables:    cfg.ValidTables,
		columns:   cfg.ValidColumns,
	}
}

// CheckQuery validates a single SQL query for safety and schema adherence.
//
// Description:
//
//	Three layers: forbidden keywords (whole-word, case-insensitive, with
//	PRAGMA allowed only in its read-only query_only form), statement
//	shape (must start with SELECT or WITH), and the schema allow-list
//	for referenced tables and table-qualified columns. Unqualified
//	columns are not resolved against the schema; that is the database's
//	job and false positives here would be worse than deferring.
func (s *SQLValidator) CheckQuery(sql string) Result {
	if strings.TrimSpace(sql) == "" {
		return FailResult(map[string]any{"query": ""}, "no SQL query provided")
	}

	var discrepancies []string
	upper := strings.ToUpper(sql)

	for _, keyword := range s.forbidden {
		p := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToUpper(keyword)) + `\b`)
		if p.MatchString(upper) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"SQL query contains forbidden keyword: %s", keyword))
		}
	}
	for _, m := range pragmaPattern.FindAllStringSubmatch(sql, -1) {
		// query_only is the one pragma the read-only store sets itself.
		if !strings.EqualFold(m[1], "query_only") {
			discrepancies = append(discrepancies, "SQL query contains forbidden keyword: PRAGMA")
			break
		}
	}

	if !leadingSelectOrCTE.MatchString(sql) {
		discrepancies = append(discrepancies, "SQL query must be a SELECT or WITH query")
	}

	tables := extractTableReferences(sql)
	for _, table := range tables {
		if len(s.tables) > 0 && !containsFold(s.tables, table) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"SQL query references unknown table: %s", table))
		}
	}

	for _, ref := range extractQualifiedColumns(sql) {
		if len(s.tables) > 0 && !containsFold(s.tables, ref.table) {
			continue // already reported as an unknown table
		}
		allowed, ok := s.columnsFor(ref.table)
		if !ok {
			continue
		}
		if !containsFold(allowed, ref.column) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"SQL query references unknown column %s in table %s", ref.column, ref.table))
		}
	}

	return resultFrom(discrepancies, map[string]any{
		"query":            sql,
		"table_references": tables,
	})
}

// CheckResultDescription validates stage prose against the numeric values
// present in the returned rows.
func (s *SQLValidator) CheckResultDescription(text string, rows []map[string]any) Result {
	if len(rows) == 0 {
		return SoftResult(map[string]any{"row_count": 0},
			"no query result rows available for validation")
	}

	var known []float64
	for _, row := range rows {
		for _, cell := range row {
			switch v := cell.(type) {
			case int64:
				if v > 0 {
					known = append(known, float64(v))
				}
			case int:
				if v > 0 {
					known = append(known, float64(v))
				}
			case float64:
				if v > 0 {
					known = append(known, v)
				}
			}
		}
	}

	numeric := s.CheckNumericPlausibility(text, known, nil)
	return Combine(numeric, PassResult(map[string]any{
		"known_values_from_result": len(known),
	}))
}

// Validate runs the full SQL-stage validation: every generated query plus
// the response text against every result set, reduced with Combine.
func (s *SQLValidator) Validate(text string, queries []string, resultRows map[string][]map[string]any) Result {
	results := make([]Result, 0, len(queries)+len(resultRows))
	for _, q := range queries {
		results = append(results, s.CheckQuery(q))
	}
	for _, rows := range resultRows {
		if len(rows) == 0 {
			continue
		}
		results = append(results, s.CheckResultDescription(text, rows))
	}
	return Combine(results...)
}

func (s *SQLValidator) columnsFor(table string) ([]string, bool) {
	for name, cols := range s.columns {
		if strings.EqualFold(name, table) {
			return cols, true
		}
	}
	return nil, false
}

type columnRef struct {
	table  string
	column string
}

func extractTableReferences(sql string) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, p := range []*regexp.Regexp{fromTablePattern, joinTablePattern} {
		for _, m := range p.FindAllStringSubmatch(sql, -1) {
			name := m[1]
			if !seen[strings.ToLower(name)] {
				seen[strings.ToLower(name)] = true
				tables = append(tables, name)
			}
		}
	}
	return tables
}

func extractQualifiedColumns(sql string) []columnRef {
	var refs []columnRef
	for _, m := range qualifiedColPat.FindAllStringSubmatch(sql, -1) {
		refs = append(refs, columnRef{table: m[1], column: m[2]})
	}
	return refs
}
