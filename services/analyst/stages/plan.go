// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

const plannerSystemPrompt = `You are a query planner for a SMITE 2 match ` +
	`database. Given a question and the schema, decompose it into read-only ` +
	`SQL sub-queries. Respond with JSON only:
{
  "query_type": "combat|economy|objectives|timeline|general",
  "intent": "<one sentence>",
  "required_tables": ["..."],
  "sub_queries": [{"query_id": "q1", "sql": "SELECT ...", "purpose": "<why>"}],
  "anticipated_followups": ["..."]
}
Rules: SELECT statements only, one statement per sub-query, use only the
tables and columns from the schema.`

// Plan asks the model to decompose the question into sub-queries and
// stores the resulting plan on the carrier.
//
// Description:
//
//	The prompt carries the introspected schema and any previous
//	questions from the session so follow-ups ("and how much healing?")
//	resolve against their context. A response that does not decode into
//	a plan with at least one sub-query is an error, which the
//	orchestrator retries.
func (a *Agents) Plan(ctx context.Context, c *pipeline.Carrier) error {
	var prompt strings.Builder
	prompt.WriteString("Schema:\n")
	prompt.WriteString(a.schema.Describe())
	if len(c.Input.PreviousQueries) > 0 {
		prompt.WriteString("\nEarlier questions in this session:\n")
		for _, q := range c.Input.PreviousQueries {
			prompt.WriteString("- ")
			prompt.WriteString(q)
			prompt.WriteString("\n")
		}
	}
	prompt.WriteString("\nQuestion: ")
	prompt.WriteString(c.Input.Query)

	response, err := a.generator.Generate(ctx, plannerSystemPrompt, prompt.String(), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.1),
	})
	if err != nil {
		return fmt.Errorf("planning query: %w", err)
	}

	var plan pipeline.QueryPlan
	if err := decodeModelJSON(response, &plan); err != nil {
		return fmt.Errorf("planner returned an unusable plan: %w", err)
	}
	if len(plan.SubQueries) == 0 {
		return fmt.Errorf("planner produced no sub-queries")
	}
	// Blank or duplicate ids would be rejected when results merge onto
	// the carrier; repair them here so a sloppy plan still executes.
	seen := make(map[string]bool, len(plan.SubQueries))
	for i := range plan.SubQueries {
		id := plan.SubQueries[i].QueryID
		if id == "" {
			id = fmt.Sprintf("q%d", i+1)
		}
		base := id
		for n := 2; seen[id]; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		seen[id] = true
		plan.SubQueries[i].QueryID = id
	}

	c.SetPlan(&plan)
	a.logger.Info("query plan created",
		slog.String("request_id", c.RequestID),
		slog.String("query_type", plan.QueryType),
		slog.Int("sub_queries", len(plan.SubQueries)),
	)
	return nil
}
