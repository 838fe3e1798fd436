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
	"math"
	"strings"
)

// DataShape describes the structure of the data behind a chart.
type DataShape string

const (
	// ShapeCategorical is label -> value data.
	ShapeCategorical DataShape = "categorical"

	// ShapeTimeSeries is time-indexed numeric data.
	ShapeTimeSeries DataShape = "time_series"

	// ShapeNumeric is numeric-vs-numeric data.
	ShapeNumeric DataShape = "numeric"

	// ShapePartToWhole is share-of-total data.
	ShapePartToWhole DataShape = "part_to_whole"
)

// chartTypesByShape maps a data shape to structurally appropriate chart
// types.
var chartTypesByShape = map[DataShape][]string{
	ShapeCategorical: {"bar", "column", "pie", "donut"},
	ShapeTimeSeries:  {"line", "area", "bar", "column", "scatter"},
	ShapeNumeric:     {"scatter", "line", "bubble"},
	ShapePartToWhole: {"pie", "donut", "stacked_bar"},
}

// ChartSpec is the chart descriptor a text-generation stage declares. The
// validator checks the descriptor, never rendered output.
type ChartSpec struct {
	Type   string
	Title  string
	XLabel string
	YLabel string

	// XField and YField name the source columns the series were built
	// from.
	XField string
	YField string

	// Shape is the declared structure of the underlying data.
	Shape DataShape

	// XValues and YValues are the series as they will be rendered.
	XValues []string
	YValues []float64

	// SourceRowCount is the row count of the query result the chart was
	// built from.
	SourceRowCount int
}

// VisualizationValidator validates chart descriptors produced by the
// chart/visualization stage.
//
// Thread Safety: Safe for concurrent use after construction.
type VisualizationValidator struct {
	*Validator
	maxPieSlices      int
	requireAxisLabels bool
}

// NewVisualizationValidator creates the chart descriptor validator.
func NewVisualizationValidator(base Config, cfg VisualizationConfig, logger *slog.Logger) *VisualizationValidator {
	if cfg.MaxPieSlices <= 0 {
		cfg.MaxPieSlices = DefaultVisualizationConfig().MaxPieSlices
	}
	return &VisualizationValidator{
		Validator:         NewValidator("visualization_validator", base, logger),
		maxPieSlices:      cfg.MaxPieSlices,
		requireAxisLabels: cfg.RequireAxisLabels,
	}
}

// Validate checks a set of chart specs plus the stage's accompanying text
// against the reference set.
func (v *VisualizationValidator) Validate(text string, charts []ChartSpec, ref *ReferenceSet) Result {
	results := make([]Result, 0, len(charts)+1)
	for i := range charts {
		results = append(results, v.CheckChart(&charts[i]))
	}
	if text != "" {
		results = append(results,
			v.CheckNoFabricatedEntities(text, ref.EntityNames("player"), "player"),
			v.CheckNumericPlausibility(text, ref.Values, nil))
	}
	return Combine(results...)
}

// CheckChart validates a single chart descriptor.
//
// Description:
//
//	Structural checks only: the chart type must suit the declared data
//	shape, axis labels must be present and loosely match the source
//	field names, pie-style charts must respect the slice cap and their
//	values must sum to roughly 100, and the rendered series length must
//	match the source row count.
func (v *VisualizationValidator) CheckChart(chart *ChartSpec) Result {
	var discrepancies []string

	if appropriate, ok := chartTypesByShape[chart.Shape]; ok {
		if !containsFold(appropriate, chart.Type) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"chart type %q is not appropriate for %s data (expected one of: %s)",
				chart.Type, chart.Shape, strings.Join(appropriate, ", ")))
		}
	}

	if v.requireAxisLabels && !isPieStyle(chart.Type) {
		if chart.XLabel == "" {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"chart %q is missing an x-axis label", chart.Title))
		} else if chart.XField != "" && !labelMatchesField(chart.XLabel, chart.XField) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"x-axis label %q does not match source field %q", chart.XLabel, chart.XField))
		}
		if chart.YLabel == "" {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"chart %q is missing a y-axis label", chart.Title))
		} else if chart.YField != "" && !labelMatchesField(chart.YLabel, chart.YField) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"y-axis label %q does not match source field %q", chart.YLabel, chart.YField))
		}
	}

	if isPieStyle(chart.Type) {
		if len(chart.YValues) > v.maxPieSlices {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"pie chart %q has %d slices, exceeding the cap of %d",
				chart.Title, len(chart.YValues), v.maxPieSlices))
		}
		if len(chart.YValues) > 0 {
			total := 0.0
			for _, y := range chart.YValues {
				total += y
			}
			if math.Abs(total-100) > 1.0 {
				discrepancies = append(discrepancies, fmt.Sprintf(
					"pie chart %q percentages sum to %.1f, not 100", chart.Title, total))
			}
		}
	}

	if chart.SourceRowCount > 0 && len(chart.YValues) > 0 && len(chart.YValues) != chart.SourceRowCount {
		discrepancies = append(discrepancies, fmt.Sprintf(
			"chart %q renders %d points but the source result has %d rows",
			chart.Title, len(chart.YValues), chart.SourceRowCount))
	}

	if len(chart.XValues) > 0 && len(chart.YValues) > 0 && len(chart.XValues) != len(chart.YValues) {
		discrepancies = append(discrepancies, fmt.Sprintf(
			"chart %q has %d x-values but %d y-values",
			chart.Title, len(chart.XValues), len(chart.YValues)))
	}

	return resultFrom(discrepancies, map[string]any{
		"chart_type":  chart.Type,
		"chart_title": chart.Title,
	})
}

func isPieStyle(chartType string) bool {
	return strings.EqualFold(chartType, "pie") || strings.EqualFold(chartType, "donut")
}

// labelMatchesField reports whether an axis label loosely matches a field
// name: every word of the snake_case field appears somewhere in the label.
func labelMatchesField(label, field string) bool {
	labelLower := strings.ToLower(label)
	for _, word := range strings.Split(strings.ToLower(field), "_") {
		if word == "" {
			continue
		}
		if !strings.Contains(labelLower, word) {
			return false
		}
	}
	return true
}
