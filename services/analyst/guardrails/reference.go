// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"strings"
)

// ChangePair is a before/after value pair used to verify percentage-change
// claims ("damage increased by 20%").
type ChangePair struct {
	// Description identifies the quantity the pair refers to.
	Description string

	Before float64
	After  float64
}

// ComparisonPair holds two values used to verify comparison claims
// ("30% higher than").
type ComparisonPair struct {
	Description string

	First  float64
	Second float64
}

// ReferenceSet is the per-request snapshot of ground truth that validators
// check generated text against.
//
// A ReferenceSet is built once per request from the already-executed query
// results and is read-only during validation. It deliberately contains
// values rather than rows: validators only ever ask "is this number real"
// and "is this name real".
type ReferenceSet struct {
	// Entities maps known entity names to an identifier, by kind
	// ("player", "ability", "item").
	Entities map[string]map[string]string

	// Values are all numeric values present in the query results.
	Values []float64

	// Stats are named aggregates computed from the results
	// ("average", "total", "max", "min").
	Stats map[string]float64

	// BeforeAfter pairs support percentage-change verification.
	BeforeAfter []ChangePair

	// Comparisons support relative-difference verification.
	Comparisons []ComparisonPair

	// TimeSeries maps an entity name to its ordered series values, used
	// for trend verification.
	TimeSeries map[string][]float64
}

// NewReferenceSet returns an empty ReferenceSet with all maps initialized.
func NewReferenceSet() *ReferenceSet {
	return &ReferenceSet{
		Entities:   make(map[string]map[string]string),
		Stats:      make(map[string]float64),
		TimeSeries: make(map[string][]float64),
	}
}

// EntityNames returns the known names for a kind. A missing kind yields
// an empty map.
func (r *ReferenceSet) EntityNames(kind string) map[string]string {
	if r.Entities == nil {
		return nil
	}
	return r.Entities[kind]
}

// AddEntity records a known-good entity name of the given kind.
func (r *ReferenceSet) AddEntity(kind, name, id string) {
	if name == "" {
		return
	}
	if r.Entities[kind] == nil {
		r.Entities[kind] = make(map[string]string)
	}
	r.Entities[kind][name] = id
}

// AddRows ingests query result rows: string cells under name-like columns
// become entities of the given kind, positive numeric cells become known
// values.
//
// Description:
//
//	This is the workhorse used by the SQL-execution stage to fold each
//	sub-query's rows into the request's reference set. Column names
//	containing "name" (player_name, ability_name, item_name) contribute
//	entities; int/float cells contribute values. Aggregate stats are
//	recomputed over all ingested values.
func (r *ReferenceSet) AddRows(kind string, rows []map[string]any) {
	for _, row := range rows {
		for col, cell := range row {
			switch v := cell.(type) {
			case string:
				if strings.Contains(strings.ToLower(col), "name") {
					r.AddEntity(entityKindForColumn(col, kind), v, "")
				}
			case int64:
				if v > 0 {
					r.Values = append(r.Values, float64(v))
				}
			case int:
				if v > 0 {
					r.Values = append(r.Values, float64(v))
				}
			case float64:
				if v > 0 {
					r.Values = append(r.Values, v)
				}
			}
		}
	}
	r.recomputeStats()
}

// AddTimeSeries records an ordered series for an entity, replacing any
// previous series under the same name.
func (r *ReferenceSet) AddTimeSeries(entity string, values []float64) {
	if r.TimeSeries == nil {
		r.TimeSeries = make(map[string][]float64)
	}
	r.TimeSeries[entity] = values
}

// SeriesFor returns the time series whose entity name appears in subject,
// matched case-insensitively. Trend claims rarely quote the entity name
// exactly, so containment is the useful relation here.
func (r *ReferenceSet) SeriesFor(subject string) []float64 {
	lower := strings.ToLower(subject)
	for entity, series := range r.TimeSeries {
		if strings.Contains(lower, strings.ToLower(entity)) {
			return series
		}
	}
	return nil
}

func (r *ReferenceSet) recomputeStats() {
	if len(r.Values) == 0 {
		return
	}
	if r.Stats == nil {
		r.Stats = make(map[string]float64)
	}
	total := 0.0
	maxV := r.Values[0]
	minV := r.Values[0]
	for _, v := range r.Values {
		total += v
		if v > maxV {
			maxV = v
		}
		if v < minV {
			minV = v
		}
	}
	r.Stats["total"] = total
	r.Stats["average"] = total / float64(len(r.Values))
	r.Stats["max"] = maxV
	r.Stats["min"] = minV
}

// entityKindForColumn refines the entity kind from the column name when it
// is more specific than the caller's default.
func entityKindForColumn(col, fallback string) string {
	lower := strings.ToLower(col)
	switch {
	case strings.Contains(lower, "player") || strings.Contains(lower, "god"):
		return "player"
	case strings.Contains(lower, "ability"):
		return "ability"
	case strings.Contains(lower, "item"):
		return "item"
	default:
		return fallback
	}
}
