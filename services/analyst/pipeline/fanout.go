// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SubQueryRunner executes one planned sub-query and returns its result.
// Implementations must honor ctx cancellation.
type SubQueryRunner func(ctx context.Context, sub SubQueryPlan) (QueryResult, error)

// DefaultFanOutConcurrency bounds parallel sub-query execution when the
// caller does not set a limit.
const DefaultFanOutConcurrency = 4

// RunSubQueries dispatches the planned sub-queries concurrently and
// attaches every result to the carrier in submission order.
//
// Description:
//
//	Each sub-query runs in its own goroutine under an errgroup with a
//	concurrency cap. Goroutines write into a results slice indexed by
//	submission position and never return errors to the group, so one
//	failure cannot cancel its siblings: a failed or timed-out item
//	becomes a failed QueryResult plus an error-ledger entry, and the
//	survivors still land on the carrier. Attachment happens after the
//	join, sequentially, so the carrier is never written concurrently.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	c - The carrier to attach results to. Must not be nil.
//	subs - Planned sub-queries in submission order.
//	run - Executes one sub-query.
//	maxConcurrent - Parallelism cap; <= 0 uses DefaultFanOutConcurrency.
//	logger - Logger for fan-out logs. If nil, uses slog.Default().
//
// Outputs:
//
//	error - ErrAllSubQueriesFailed when every sub-query failed, a merge
//	error on duplicate query ids, nil otherwise. Partial failure is not
//	an error.
func RunSubQueries(ctx context.Context, c *Carrier, subs []SubQueryPlan, run SubQueryRunner, maxConcurrent int, logger *slog.Logger) error {
	if ctx == nil {
		return ErrNilContext
	}
	if c == nil {
		return fmt.Errorf("pipeline: carrier must not be nil")
	}
	if len(subs) == 0 {
		return nil
	}
	if run == nil {
		return fmt.Errorf("pipeline: sub-query runner must not be nil")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultFanOutConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "pipeline.FanOut",
		trace.WithAttributes(
			attribute.String("pipeline.request_id", c.RequestID),
			attribute.Int("pipeline.sub_query_count", len(subs)),
			attribute.Int("pipeline.max_concurrent", maxConcurrent),
		),
	)
	defer span.End()

	results := make([]QueryResult, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = runOne(gctx, sub, run)
			return nil
		})
	}
	// Goroutines never return errors, so Wait is purely the join point.
	_ = g.Wait()

	failed := 0
	for i := range results {
		r := &results[i]
		if r.Failed {
			failed++
			c.RecordError("sub_query:"+r.QueryID, "query_failed", r.Error, false)
		}
		if err := c.MergeSubResult(*r); err != nil {
			return fmt.Errorf("attaching result %s: %w", r.QueryID, err)
		}
	}

	span.SetAttributes(
		attribute.Int("pipeline.sub_queries_failed", failed),
	)
	logger.Debug("sub-query fan-out joined",
		slog.String("request_id", c.RequestID),
		slog.Int("dispatched", len(subs)),
		slog.Int("failed", failed),
	)

	if failed == len(subs) {
		span.SetStatus(codes.Error, "all sub-queries failed")
		return ErrAllSubQueriesFailed
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// runOne executes a single sub-query with panic containment, converting
// every failure mode into a failed QueryResult.
func runOne(ctx context.Context, sub SubQueryPlan, run SubQueryRunner) (result QueryResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failedResult(sub, time.Since(start), fmt.Sprintf("sub-query panicked: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return failedResult(sub, 0, "sub-query not started: "+err.Error())
	}

	res, err := run(ctx, sub)
	elapsed := time.Since(start)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "sub-query interrupted: " + msg
		}
		return failedResult(sub, elapsed, msg)
	}

	if res.QueryID == "" {
		res.QueryID = sub.QueryID
	}
	if res.SQL == "" {
		res.SQL = sub.SQL
	}
	if res.Purpose == "" {
		res.Purpose = sub.Purpose
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = elapsed
	}
	res.RowCount = len(res.Rows)
	return res
}

func failedResult(sub SubQueryPlan, elapsed time.Duration, msg string) QueryResult {
	return QueryResult{
		QueryID:       sub.QueryID,
		SQL:           sub.SQL,
		Purpose:       sub.Purpose,
		ExecutionTime: elapsed,
		Failed:        true,
		Error:         msg,
	}
}
