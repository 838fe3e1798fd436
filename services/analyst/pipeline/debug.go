// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "fmt"

// DefaultDebugMaxRows bounds rows per query result in a debug snapshot.
const DefaultDebugMaxRows = 10

// DebugSnapshot renders the carrier as a nested document for inspection:
// stage timings with a performance breakdown, the plan, query results
// truncated to maxRows, findings, both ledgers, and the final output.
//
// Inputs:
//
//	maxRows - Row cap per query result; <= 0 uses DefaultDebugMaxRows.
func (c *Carrier) DebugSnapshot(maxRows int) map[string]any {
	if maxRows <= 0 {
		maxRows = DefaultDebugMaxRows
	}

	snapshot := map[string]any{
		"request_id": c.RequestID,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
		"input": map[string]any{
			"query":            c.Input.Query,
			"database_path":    c.Input.DatabasePath,
			"previous_queries": c.Input.PreviousQueries,
		},
		"stage_history":     c.StageHistory,
		"performance":       c.performanceMetrics(),
		"validation_ledger": c.Validation,
		"validated":         c.Validated(),
		"errors":            c.Errors,
		"final_output":      c.FinalOutput,
	}

	if c.Plan != nil {
		snapshot["plan"] = c.Plan
	}

	results := make(map[string]any, len(c.QueryResults))
	for _, id := range c.ResultIDs() {
		result := c.QueryResults[id]
		entry := map[string]any{
			"sql":               result.SQL,
			"purpose":           result.Purpose,
			"row_count":         result.RowCount,
			"execution_time_ms": float64(result.ExecutionTime.Microseconds()) / 1000.0,
		}
		if result.Failed {
			entry["failed"] = true
			entry["error"] = result.Error
		}
		rows := result.Rows
		if len(rows) > maxRows {
			rows = rows[:maxRows]
			entry["rows_truncated"] = true
		}
		entry["rows"] = rows
		results[id] = entry
	}
	snapshot["query_results"] = results

	if len(c.Analysis.KeyFindings) > 0 || len(c.Analysis.Patterns) > 0 ||
		len(c.Analysis.Comparisons) > 0 || len(c.Analysis.RecommendedCharts) > 0 {
		snapshot["analysis"] = c.Analysis
	}
	return snapshot
}

// performanceMetrics summarizes timing across the stage history: total
// pipeline time, per-stage share, the slowest stage, and total query
// execution time.
func (c *Carrier) performanceMetrics() map[string]any {
	totalMS := 0.0
	for _, entry := range c.StageHistory {
		if entry.Status != StatusInProgress {
			totalMS += entry.DurationMS
		}
	}

	var stages []map[string]any
	slowest := ""
	slowestMS := 0.0
	for _, entry := range c.StageHistory {
		if entry.Status == StatusInProgress {
			continue
		}
		percent := 0.0
		if totalMS > 0 {
			percent = entry.DurationMS / totalMS * 100
		}
		stages = append(stages, map[string]any{
			"stage":       entry.Stage,
			"duration_ms": entry.DurationMS,
			"percent":     fmt.Sprintf("%.1f%%", percent),
			"status":      entry.Status,
		})
		if entry.DurationMS > slowestMS {
			slowestMS = entry.DurationMS
			slowest = entry.Stage
		}
	}

	queryMS := 0.0
	for _, result := range c.QueryResults {
		queryMS += float64(result.ExecutionTime.Microseconds()) / 1000.0
	}

	metrics := map[string]any{
		"total_ms":           totalMS,
		"stages":             stages,
		"query_execution_ms": queryMS,
	}
	if slowest != "" {
		metrics["slowest_stage"] = slowest
	}
	return metrics
}
