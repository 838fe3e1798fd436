// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/matchlens/services/analyst/guardrails"
	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

const analystSystemPrompt = `You are a match analyst. Given query results ` +
	`from a SMITE 2 combat log, extract the insights that answer the ` +
	`player's question. Use only values present in the results; never invent ` +
	`names or numbers. Respond with JSON only:
{
  "key_findings": [{"description": "...", "significance": "high|medium|low", "supporting_data": "<query id>"}],
  "patterns": [{"description": "...", "significance": "...", "supporting_data": "..."}],
  "comparisons": [{"description": "...", "significance": "...", "supporting_data": "..."}],
  "recommended_charts": [{"type": "bar|line|pie|scatter", "title": "...", "data_source": "<query id>", "x_column": "...", "y_column": "...", "importance": "..."}]
}`

// analystResponse is the model's JSON contract for the analysis stage.
type analystResponse struct {
	KeyFindings       []analystFinding `json:"key_findings"`
	Patterns          []analystFinding `json:"patterns"`
	Comparisons       []analystFinding `json:"comparisons"`
	RecommendedCharts []analystChart   `json:"recommended_charts"`
}

type analystFinding struct {
	Description    string `json:"description"`
	Significance   string `json:"significance"`
	SupportingData string `json:"supporting_data"`
}

type analystChart struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	DataSource string `json:"data_source"`
	XColumn    string `json:"x_column"`
	YColumn    string `json:"y_column"`
	Importance string `json:"importance"`
}

// maxRowsPerPrompt bounds how many rows of each result go into the
// analysis prompt.
const maxRowsPerPrompt = 50

// Analyze derives findings from the executed results and validates every
// finding against the data it came from.
//
// Description:
//
//	The guardrail runs over the concatenated finding descriptions. A
//	tripwire discards the flagged findings rather than the whole stage:
//	findings that survived validation are still worth composing. The
//	verdict lands on the ledger either way.
func (a *Agents) Analyze(ctx context.Context, c *pipeline.Carrier) error {
	if len(c.ResultIDs()) == 0 {
		return fmt.Errorf("%w: no query results to analyze", pipeline.ErrDataUnavailable)
	}

	response, err := a.generator.Generate(ctx, analystSystemPrompt, a.analysisPrompt(c), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.2),
	})
	if err != nil {
		return fmt.Errorf("analyzing results: %w", err)
	}

	var parsed analystResponse
	if err := decodeModelJSON(response, &parsed); err != nil {
		return fmt.Errorf("analyst returned unusable output: %w", err)
	}

	ref := buildReferenceSet(c)
	kept := 0
	dropped := 0

	var allDiscrepancies []string
	validate := func(f analystFinding) bool {
		verdict := a.analysisValidator.Validate(f.Description, ref)
		if verdict.TripwireTriggered {
			allDiscrepancies = append(allDiscrepancies, verdict.Discrepancies...)
			dropped++
			return false
		}
		kept++
		return true
	}

	for _, f := range parsed.KeyFindings {
		if validate(f) {
			c.AddKeyFinding(f.Description, f.Significance, f.SupportingData)
		}
	}
	for _, f := range parsed.Patterns {
		if validate(f) {
			c.AddPattern(f.Description, f.Significance, f.SupportingData)
		}
	}
	for _, f := range parsed.Comparisons {
		if validate(f) {
			c.AddComparison(f.Description, f.Significance, f.SupportingData)
		}
	}

	for _, chart := range parsed.RecommendedCharts {
		spec := chartSpecFrom(chart, c)
		verdict := a.vizValidator.CheckChart(&spec)
		if verdict.TripwireTriggered {
			allDiscrepancies = append(allDiscrepancies, verdict.Discrepancies...)
			continue
		}
		c.AddChartRecommendation(pipeline.ChartRecommendation{
			Type:       chart.Type,
			Title:      chart.Title,
			DataSource: chart.DataSource,
			XColumn:    chart.XColumn,
			YColumn:    chart.YColumn,
			Importance: chart.Importance,
		})
	}

	c.RecordValidation(StageAnalyze, a.analysisValidator.Name(), len(allDiscrepancies) == 0, allDiscrepancies)

	if kept == 0 {
		return fmt.Errorf("%w: no findings survived validation", pipeline.ErrDataUnavailable)
	}
	a.logger.Info("analysis complete",
		slog.String("request_id", c.RequestID),
		slog.Int("findings_kept", kept),
		slog.Int("findings_dropped", dropped),
	)
	return nil
}

// analysisPrompt renders the question plus each result's rows as JSON,
// truncated to a bounded row count.
func (a *Agents) analysisPrompt(c *pipeline.Carrier) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(c.Input.Query)
	b.WriteString("\n\nQuery results:\n")

	for _, id := range c.ResultIDs() {
		result := c.QueryResults[id]
		b.WriteString(fmt.Sprintf("\n[%s] %s (%d rows)\n", id, result.Purpose, result.RowCount))
		if result.Failed {
			b.WriteString("  failed: " + result.Error + "\n")
			continue
		}
		rows := result.Rows
		if len(rows) > maxRowsPerPrompt {
			rows = rows[:maxRowsPerPrompt]
			b.WriteString(fmt.Sprintf("  (truncated to first %d rows)\n", maxRowsPerPrompt))
		}
		payload, err := json.Marshal(rows)
		if err != nil {
			continue
		}
		b.Write(payload)
		b.WriteString("\n")
	}
	return b.String()
}

// chartSpecFrom builds a structural chart spec from a recommendation and
// the result it points at.
func chartSpecFrom(chart analystChart, c *pipeline.Carrier) guardrails.ChartSpec {
	spec := guardrails.ChartSpec{
		Type:   chart.Type,
		Title:  chart.Title,
		XLabel: labelFromColumn(chart.XColumn),
		YLabel: labelFromColumn(chart.YColumn),
		XField: chart.XColumn,
		YField: chart.YColumn,
		Shape:  shapeForColumns(chart.XColumn),
	}
	if result, ok := c.QueryResults[chart.DataSource]; ok && !result.Failed {
		spec.SourceRowCount = result.RowCount
		for _, row := range result.Rows {
			if x, ok := row[chart.XColumn].(string); ok {
				spec.XValues = append(spec.XValues, x)
			}
			if y, ok := asFloat(row[chart.YColumn]); ok {
				spec.YValues = append(spec.YValues, y)
			}
		}
	}
	return spec
}

func labelFromColumn(col string) string {
	if col == "" {
		return ""
	}
	words := strings.Split(col, "_")
	return strings.Join(words, " ")
}

func shapeForColumns(xCol string) guardrails.DataShape {
	lower := strings.ToLower(xCol)
	if strings.Contains(lower, "time") || strings.Contains(lower, "minute") || strings.Contains(lower, "tick") {
		return guardrails.ShapeTimeSeries
	}
	return guardrails.ShapeCategorical
}
