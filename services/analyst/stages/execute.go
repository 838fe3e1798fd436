// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

// Execute runs the plan's sub-queries concurrently and attaches their
// results to the carrier.
//
// Description:
//
//	Each sub-query passes the SQL guardrail before it touches the
//	database; a query that fails validation becomes a failed result with
//	the discrepancies as its error, never a database call. Partial
//	failure degrades, but a plan whose every sub-query failed - or
//	returned no rows at all - surfaces as data-unavailable so the
//	orchestrator stops instead of analyzing nothing.
func (a *Agents) Execute(ctx context.Context, c *pipeline.Carrier) error {
	if c.Plan == nil || len(c.Plan.SubQueries) == 0 {
		return fmt.Errorf("%w: no query plan", pipeline.ErrDataUnavailable)
	}

	runner := func(ctx context.Context, sub pipeline.SubQueryPlan) (pipeline.QueryResult, error) {
		if verdict := a.sqlValidator.CheckQuery(sub.SQL); verdict.TripwireTriggered {
			return pipeline.QueryResult{}, fmt.Errorf(
				"query rejected: %s", strings.Join(verdict.Discrepancies, "; "))
		}
		rows, elapsed, err := a.store.ExecuteSelect(ctx, sub.SQL)
		if err != nil {
			return pipeline.QueryResult{}, err
		}
		return pipeline.QueryResult{
			QueryID:       sub.QueryID,
			Rows:          rows,
			ExecutionTime: elapsed,
		}, nil
	}

	err := pipeline.RunSubQueries(ctx, c, c.Plan.SubQueries, runner, a.maxConcurrent, a.logger)
	if err != nil {
		if errors.Is(err, pipeline.ErrAllSubQueriesFailed) {
			return fmt.Errorf("%w: every sub-query failed", pipeline.ErrDataUnavailable)
		}
		return err
	}

	totalRows := 0
	for _, id := range c.ResultIDs() {
		totalRows += c.QueryResults[id].RowCount
	}
	// The verdict for this stage is the per-query validation: record one
	// combined entry.
	queries := make([]string, 0, len(c.Plan.SubQueries))
	for _, sub := range c.Plan.SubQueries {
		queries = append(queries, sub.SQL)
	}
	verdict := a.sqlValidator.Validate("", queries, nil)
	c.RecordValidation(StageExecute, a.sqlValidator.Name(), !verdict.TripwireTriggered, verdict.Discrepancies)

	if totalRows == 0 {
		return fmt.Errorf("%w: sub-queries returned no rows", pipeline.ErrDataUnavailable)
	}

	a.logger.Info("sub-queries executed",
		slog.String("request_id", c.RequestID),
		slog.Int("queries", len(c.Plan.SubQueries)),
		slog.Int("rows", totalRows),
	)
	return nil
}
