// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"sort"
	"strings"

	"github.com/AleutianAI/matchlens/services/analyst/guardrails"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

// buildReferenceSet folds every successful query result on the carrier
// into one ground-truth snapshot for the validators.
//
// Description:
//
//	Rows contribute entities and numeric values through the reference
//	set's own ingestion. On top of that, results whose rows carry a
//	name column plus a time-like column are folded into per-entity time
//	series, ordered by the time column, so trend claims can be verified.
func buildReferenceSet(c *pipeline.Carrier) *guardrails.ReferenceSet {
	ref := guardrails.NewReferenceSet()
	for _, id := range c.ResultIDs() {
		result := c.QueryResults[id]
		if result.Failed {
			continue
		}
		ref.AddRows("player", result.Rows)
		ingestTimeSeries(ref, result.Rows)
	}
	return ref
}

// ingestTimeSeries extracts per-entity ordered series from rows shaped
// like (name, time, value).
func ingestTimeSeries(ref *guardrails.ReferenceSet, rows []map[string]any) {
	type point struct {
		at    float64
		value float64
	}
	series := make(map[string][]point)

	for _, row := range rows {
		name := stringCell(row, "name")
		timeCol, at := numericCell(row, "time", "minute", "tick", "second")
		if name == "" || timeCol == "" {
			continue
		}
		for col, cell := range row {
			if col == timeCol || strings.Contains(strings.ToLower(col), "name") {
				continue
			}
			if v, ok := asFloat(cell); ok {
				series[name] = append(series[name], point{at: at, value: v})
				break
			}
		}
	}

	for name, points := range series {
		if len(points) < 3 {
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].at < points[j].at })
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.value
		}
		ref.AddTimeSeries(name, values)
	}
}

func stringCell(row map[string]any, nameFragment string) string {
	for col, cell := range row {
		if !strings.Contains(strings.ToLower(col), nameFragment) {
			continue
		}
		if s, ok := cell.(string); ok {
			return s
		}
	}
	return ""
}

func numericCell(row map[string]any, fragments ...string) (string, float64) {
	for col, cell := range row {
		lower := strings.ToLower(col)
		for _, frag := range fragments {
			if !strings.Contains(lower, frag) {
				continue
			}
			if v, ok := asFloat(cell); ok {
				return col, v
			}
		}
	}
	return "", 0
}

func asFloat(cell any) (float64, bool) {
	switch v := cell.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
