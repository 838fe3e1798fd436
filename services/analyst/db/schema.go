// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column describes one column of an introspected table.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null"`
	PK      bool   `json:"pk"`
}

// Schema is the introspected shape of an event-log database.
type Schema struct {
	// DatabasePath identifies the file this schema was read from.
	DatabasePath string `json:"database_path"`

	// Tables maps table name to its columns in declaration order.
	Tables map[string][]Column `json:"tables"`

	// IntrospectedAt records when the snapshot was taken.
	IntrospectedAt time.Time `json:"introspected_at"`
}

// TableNames returns the table names sorted alphabetically.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnNames returns the column names of a table, or nil for an unknown
// table.
func (s *Schema) ColumnNames(table string) []string {
	cols, ok := s.Tables[table]
	if !ok {
		return nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// AllowLists returns the schema as validator allow-lists: table names and
// a table->columns map.
func (s *Schema) AllowLists() ([]string, map[string][]string) {
	tables := s.TableNames()
	columns := make(map[string][]string, len(s.Tables))
	for name := range s.Tables {
		columns[name] = s.ColumnNames(name)
	}
	return tables, columns
}

// Describe renders the schema as compact DDL-like text for prompt
// construction.
func (s *Schema) Describe() string {
	var b strings.Builder
	for _, table := range s.TableNames() {
		b.WriteString(table)
		b.WriteString("(")
		for i, col := range s.Tables[table] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			b.WriteString(" ")
			b.WriteString(col.Type)
			if col.PK {
				b.WriteString(" PRIMARY KEY")
			}
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// Introspect reads the database's table and column layout.
//
// Description:
//
//	Tables come from sqlite_schema, columns from pragma_table_info.
//	Internal sqlite_* tables are skipped. The pragma is invoked through
//	its table-valued function form so it passes the read-only gate,
//	which rejects PRAGMA statements.
func (s *Store) Introspect(ctx context.Context) (*Schema, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	tables, _, err := s.ExecuteSelect(ctx,
		"SELECT name FROM sqlite_schema WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	schema := &Schema{
		DatabasePath:   s.path,
		Tables:         make(map[string][]Column, len(tables)),
		IntrospectedAt: time.Now(),
	}

	for _, row := range tables {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		cols, _, err := s.ExecuteSelect(ctx,
			"SELECT name, type, \"notnull\", pk FROM pragma_table_info(?) ORDER BY cid", name)
		if err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", name, err)
		}
		columns := make([]Column, 0, len(cols))
		for _, c := range cols {
			colName, _ := c["name"].(string)
			colType, _ := c["type"].(string)
			notNull, _ := c["notnull"].(int64)
			pk, _ := c["pk"].(int64)
			columns = append(columns, Column{
				Name:    colName,
				Type:    colType,
				NotNull: notNull != 0,
				PK:      pk != 0,
			})
		}
		schema.Tables[name] = columns
	}
	return schema, nil
}
