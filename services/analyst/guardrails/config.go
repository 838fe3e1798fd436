// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

// Config configures the base validator behavior.
type Config struct {
	// Tolerance is the relative error allowed when matching an extracted
	// number against a known value.
	Tolerance float64

	// StrictMode applies stricter rules: unverifiable percentage claims
	// and unknown capitalized tokens near claim verbs are flagged.
	StrictMode bool

	// RoundingForgiveness tolerates values that match a known value
	// rounded to the nearest 100 or 1000.
	RoundingForgiveness bool

	// Sentinels maps entity kinds to decoy names that must never appear
	// in generated text. Used for targeted hallucination tests.
	Sentinels map[string][]string
}

// DefaultConfig returns the default validator configuration.
//
// The 5% tolerance and the nearest-100/1000 rounding forgiveness are
// policy, not contract; they were tuned on combat-log answers and may not
// generalize to other domains.
func DefaultConfig() Config {
	return Config{
		Tolerance:           0.05,
		StrictMode:          false,
		RoundingForgiveness: true,
		Sentinels:           DefaultSentinels(),
	}
}

// DefaultSentinels returns the stock decoy-name registry.
//
// These are names a model is likely to invent for a MOBA match (gods,
// fantasy items) that are deliberately excluded from test fixtures, so any
// appearance is a confirmed fabrication.
func DefaultSentinels() map[string][]string {
	return map[string][]string{
		"player": {"Zephyr", "Ares", "Apollo", "Zeus", "Athena"},
		"ability": {
			"Wind Blast", "Arcane Surge", "Tornado", "Lightning Strike",
		},
		"item": {
			"Mystic Blade", "Eternal Shield", "Void Staff", "Celestial Armor",
		},
	}
}

// SQLConfig configures the SQL-result validator.
type SQLConfig struct {
	// ForbiddenKeywords are statement keywords that fail validation.
	ForbiddenKeywords []string

	// ValidTables is the schema allow-list of table names.
	ValidTables []string

	// ValidColumns maps table names to their allowed columns.
	ValidColumns map[string][]string
}

// DefaultSQLConfig returns the SQL validator defaults. The keyword list
// mirrors the denylist enforced at the connection boundary; validation
// here catches the problem before a query is ever sent.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		ForbiddenKeywords: []string{
			"DELETE", "DROP", "INSERT", "UPDATE", "ALTER", "CREATE",
			"ATTACH", "DETACH", "TRUNCATE", "REINDEX", "REPLACE",
			"GRANT", "REVOKE", "VACUUM",
		},
	}
}

// AnalysisConfig configures the statistical-analysis validator.
type AnalysisConfig struct {
	// TrendSignificance is the minimum correlation magnitude below which
	// any directional claim is a violation (the honest claim is
	// "stable").
	TrendSignificance float64

	// FluctuationCV is the coefficient-of-variation threshold above
	// which a series is classified as fluctuating regardless of slope.
	FluctuationCV float64
}

// DefaultAnalysisConfig returns the analysis validator defaults.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		TrendSignificance: 0.10,
		FluctuationCV:     0.25,
	}
}

// VisualizationConfig configures the chart descriptor validator.
type VisualizationConfig struct {
	// MaxPieSlices caps the slice count for pie-style charts.
	MaxPieSlices int

	// RequireAxisLabels fails charts missing axis labels.
	RequireAxisLabels bool
}

// DefaultVisualizationConfig returns the visualization validator defaults.
func DefaultVisualizationConfig() VisualizationConfig {
	return VisualizationConfig{
		MaxPieSlices:      7,
		RequireAxisLabels: true,
	}
}

// ComposerConfig configures the final-composition validator.
type ComposerConfig struct {
	// ContradictionRatio is the maximum relative difference allowed for
	// the same named quantity across two sections. The default 1.0
	// (100%) makes this a coarse contradiction detector, not an
	// equality check.
	ContradictionRatio float64

	// ComprehensivenessFraction is the fraction of prior key findings
	// whose salient words must reappear in the final text.
	ComprehensivenessFraction float64
}

// DefaultComposerConfig returns the composition validator defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		ContradictionRatio:        1.0,
		ComprehensivenessFraction: 0.5,
	}
}
