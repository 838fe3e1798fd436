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

// AnalysisValidator validates the statistical-analysis stage's output:
// aggregate claims, percentage-change claims, comparisons, and trend
// directions, all against the request's reference set.
//
// Thread Safety: Safe for concurrent use after construction.
type AnalysisValidator struct {
	*Validator
	trendSignificance float64
	fluctuationCV     float64
}

// NewAnalysisValidator creates the statistical-analysis validator.
func NewAnalysisValidator(base Config, cfg AnalysisConfig, logger *slog.Logger) *AnalysisValidator {
	if cfg.TrendSignificance <= 0 {
		cfg.TrendSignificance = DefaultAnalysisConfig().TrendSignificance
	}
	if cfg.FluctuationCV <= 0 {
		cfg.FluctuationCV = DefaultAnalysisConfig().FluctuationCV
	}
	return &AnalysisValidator{
		Validator:         NewValidator("analysis_validator", base, logger),
		trendSignificance: cfg.TrendSignificance,
		fluctuationCV:     cfg.FluctuationCV,
	}
}

// Validate runs the full analysis-stage validation against ref.
//
// Description:
//
//	Composes the base checks (entity presence, fabrication, numeric
//	plausibility, statistical claims) with the stage-specific trend and
//	change-claim checks, reduced with Combine so callers always get one
//	Result per pass.
func (a *AnalysisValidator) Validate(text string, ref *ReferenceSet) Result {
	results := []Result{
		a.CheckEntityPresence(text, ref.EntityNames("player"), "player", 1),
		a.CheckNoFabricatedEntities(text, ref.EntityNames("player"), "player"),
		a.CheckNumericPlausibility(text, ref.Values, nil),
		a.CheckStatisticalClaims(text, ref.Stats, a.Strict()),
		a.CheckTrendClaims(text, ref),
		a.CheckChangeClaims(text, ref),
	}
	return Combine(results...)
}

// CheckTrendClaims verifies every directional statement in text against
// the matching time series in ref.
//
// Description:
//
//	The actual trend is classified from a least-squares slope over the
//	series: below the significance threshold on correlation magnitude
//	the honest label is "stable", and above the coefficient-of-variation
//	threshold the label is "fluctuating" regardless of slope. A claim
//	whose subject matches no known series is skipped, not flagged -
//	unverifiable is not false.
func (a *AnalysisValidator) CheckTrendClaims(text string, ref *ReferenceSet) Result {
	var discrepancies []string
	checked := 0

	for _, claim := range ExtractTrendClaims(text) {
		series := ref.SeriesFor(claim.Subject)
		if len(series) < 3 {
			continue
		}
		checked++
		actual := a.classifyTrend(series)
		if claim.Direction != actual {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"trend claim %q does not match actual trend %q",
				claim.Direction, actual))
		}
	}

	return resultFrom(discrepancies, map[string]any{
		"trend_claims_checked": checked,
	})
}

// CheckChangeClaims verifies percentage-change and comparison claims
// against the before/after and comparison pairs in ref.
func (a *AnalysisValidator) CheckChangeClaims(text string, ref *ReferenceSet) Result {
	var discrepancies []string
	// Pair descriptions are matched against the whole text: the claim
	// fragment itself ("increased by 20%") never carries the quantity
	// name.
	textLower := strings.ToLower(text)

	for _, claim := range ExtractPercentageChangeClaims(text) {
		lower := strings.ToLower(claim.Raw)

		if pair, ok := matchChangePair(textLower, ref.BeforeAfter); ok && pair.Before != 0 {
			var actual float64
			if strings.Contains(lower, "decreas") || strings.Contains(lower, "fell") || strings.Contains(lower, "dropped") {
				actual = (pair.Before - pair.After) / pair.Before * 100
			} else {
				actual = (pair.After - pair.Before) / pair.Before * 100
			}
			// Percentage points get a wider tolerance than raw values.
			if math.Abs(claim.Value-actual) > a.tolerance*100 {
				discrepancies = append(discrepancies, fmt.Sprintf(
					"change claim '%g%%' does not match actual change '%.2f%%'",
					claim.Value, actual))
			}
			continue
		}

		if pair, ok := matchComparisonPair(textLower, ref.Comparisons); ok && pair.Second != 0 {
			var actual float64
			if strings.Contains(lower, "lower") || strings.Contains(lower, "less") {
				actual = (pair.Second - pair.First) / pair.Second * 100
			} else {
				actual = (pair.First - pair.Second) / pair.Second * 100
			}
			if math.Abs(claim.Value-actual) > a.tolerance*100 {
				discrepancies = append(discrepancies, fmt.Sprintf(
					"comparison claim '%g%%' does not match actual difference '%.2f%%'",
					claim.Value, actual))
			}
		}
	}

	return resultFrom(discrepancies, nil)
}

// classifyTrend labels a series as increasing, decreasing, stable, or
// fluctuating.
func (a *AnalysisValidator) classifyTrend(series []float64) string {
	slope, correlation := linearTrend(series)

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	if mean != 0 {
		variance := 0.0
		for _, v := range series {
			variance += (v - mean) * (v - mean)
		}
		stddev := math.Sqrt(variance / float64(len(series)))
		if stddev/math.Abs(mean) > a.fluctuationCV {
			return "fluctuating"
		}
	}

	if math.Abs(correlation) < a.trendSignificance {
		return "stable"
	}
	switch {
	case slope > 0:
		return "increasing"
	case slope < 0:
		return "decreasing"
	default:
		return "stable"
	}
}

// linearTrend computes the least-squares slope and Pearson correlation of
// a series against its index.
func linearTrend(series []float64) (slope, correlation float64) {
	n := float64(len(series))
	if n < 2 {
		return 0, 0
	}

	xMean := (n - 1) / 2
	yMean := 0.0
	for _, v := range series {
		yMean += v
	}
	yMean /= n

	var num, xVar, yVar float64
	for i, v := range series {
		dx := float64(i) - xMean
		dy := v - yMean
		num += dx * dy
		xVar += dx * dx
		yVar += dy * dy
	}
	if xVar == 0 || yVar == 0 {
		return 0, 0
	}
	slope = num / xVar
	correlation = num / math.Sqrt(xVar*yVar)
	return slope, correlation
}

func matchChangePair(claim string, pairs []ChangePair) (ChangePair, bool) {
	for _, p := range pairs {
		if p.Description == "" || strings.Contains(claim, strings.ToLower(p.Description)) {
			return p, true
		}
	}
	return ChangePair{}, false
}

func matchComparisonPair(claim string, pairs []ComparisonPair) (ComparisonPair, bool) {
	for _, p := range pairs {
		if p.Description == "" || strings.Contains(claim, strings.ToLower(p.Description)) {
			return p, true
		}
	}
	return ComparisonPair{}, false
}
