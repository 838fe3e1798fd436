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
	"regexp"
	"strings"
)

// Validator provides the four base fidelity checks shared by all domain
// validators.
//
// Thread Safety: Safe for concurrent use after construction. All state is
// read-only once built.
type Validator struct {
	name      string
	tolerance float64
	strict    bool
	rounding  bool
	sentinels map[string][]string
	logger    *slog.Logger
}

// NewValidator creates a base validator.
//
// Inputs:
//
//	name - Validator name for the ledger and logs.
//	cfg - Configuration; zero tolerance falls back to the default 5%.
//	logger - Logger; nil uses slog.Default().
func NewValidator(name string, cfg Config, logger *slog.Logger) *Validator {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.Sentinels == nil {
		cfg.Sentinels = DefaultSentinels()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		name:      name,
		tolerance: cfg.Tolerance,
		strict:    cfg.StrictMode,
		rounding:  cfg.RoundingForgiveness,
		sentinels: cfg.Sentinels,
		logger:    logger,
	}
}

// Name returns the validator name used on the validation ledger.
func (v *Validator) Name() string { return v.name }

// Strict reports whether strict mode is enabled.
func (v *Validator) Strict() bool { return v.strict }

// CheckEntityPresence fails if fewer than minRequired known entity names
// appear in text.
//
// Description:
//
//	Matches each known name as a whole word, case-insensitively. Used to
//	catch under-specific or evasive answers that avoid naming anything
//	from the data.
//
// Inputs:
//
//	text - The generated text.
//	known - Known entity names (values are identifiers, unused here).
//	kind - Entity kind for the discrepancy message.
//	minRequired - Minimum distinct known names required.
func (v *Validator) CheckEntityPresence(text string, known map[string]string, kind string, minRequired int) Result {
	found := 0
	for name := range known {
		if containsWord(text, name) {
			found++
		}
	}

	ctx := map[string]any{
		"entity_kind":       kind,
		"found_entities":    found,
		"required_entities": minRequired,
	}
	if found < minRequired {
		return FailResult(ctx, fmt.Sprintf(
			"found only %d %s(s) from the data in the response, but at least %d is required",
			found, kind, minRequired))
	}
	return PassResult(ctx)
}

// CheckNoFabricatedEntities fails if any sentinel decoy name appears in
// text without also being a legitimate known entity.
//
// Description:
//
//	Any sentinel hit is an immediate failure: inventing a name is
//	unambiguous, so unlike the numeric checks this one weights false
//	negatives as worse than false positives. The known-entity exemption
//	guards against a sentinel accidentally colliding with real data.
//
//	In strict mode the check additionally flags capitalized tokens
//	adjacent to claim verbs ("dealt", "did", "had") that match no known
//	entity - a generic fabrication heuristic with a real false-positive
//	rate, which is why it is opt-in.
func (v *Validator) CheckNoFabricatedEntities(text string, known map[string]string, kind string) Result {
	knownLower := make(map[string]bool, len(known))
	for name := range known {
		knownLower[strings.ToLower(name)] = true
	}

	var discrepancies []string
	var fabricated []string
	for _, decoy := range v.sentinels[kind] {
		if decoy == "" || !containsWord(text, decoy) {
			continue
		}
		if knownLower[strings.ToLower(decoy)] {
			continue
		}
		fabricated = append(fabricated, decoy)
		discrepancies = append(discrepancies, fmt.Sprintf(
			"made-up %s %q found in response", kind, decoy))
	}

	if v.strict && kind == "player" {
		for _, m := range entityNearVerbPattern.FindAllStringSubmatch(text, -1) {
			candidate := m[1]
			if knownLower[strings.ToLower(candidate)] {
				continue
			}
			if containsFold(fabricated, candidate) {
				continue
			}
			fabricated = append(fabricated, candidate)
			discrepancies = append(discrepancies, fmt.Sprintf(
				"potentially fabricated %s %q found in response", kind, candidate))
		}
	}

	return resultFrom(discrepancies, map[string]any{
		"entity_kind":         kind,
		"fabricated_entities": fabricated,
	})
}

// CheckNumericPlausibility extracts numbers from text using the given
// contextual patterns (nil uses the default library) and fails for each
// number that matches no known value.
//
// Description:
//
//	A number passes if it is within the configured relative tolerance of
//	any known value, or - when rounding forgiveness is enabled - if it is
//	close to a known value rounded to the nearest 100 or 1000, since
//	humans and models alike round large totals when prose-ifying them.
func (v *Validator) CheckNumericPlausibility(text string, knownValues []float64, patterns []*regexp.Regexp) Result {
	var discrepancies []string
	var fabricated []float64

	for _, claim := range ExtractNumericClaims(text, patterns) {
		if v.valueIsPlausible(claim.Value, knownValues) {
			continue
		}
		fabricated = append(fabricated, claim.Value)
		discrepancies = append(discrepancies, fmt.Sprintf(
			"made-up value '%s' found in response", formatValue(claim.Value)))
	}

	return resultFrom(discrepancies, map[string]any{
		"fabricated_values": fabricated,
		"known_value_count": len(knownValues),
	})
}

// valueIsPlausible reports whether extracted matches any known value
// within tolerance, or a rounded form of one.
func (v *Validator) valueIsPlausible(extracted float64, known []float64) bool {
	for _, kv := range known {
		if kv > 0 && math.Abs(extracted-kv)/kv <= v.tolerance {
			return true
		}
		if kv == extracted {
			return true
		}
	}
	if !v.rounding {
		return false
	}
	for _, kv := range known {
		if kv <= 1000 {
			continue
		}
		if math.Abs(extracted-roundTo(kv, 1000)) < 1000 {
			return true
		}
		if math.Abs(extracted-roundTo(kv, 100)) < 100 {
			return true
		}
	}
	return false
}

// CheckStatisticalClaims validates aggregate and percentage claims in text
// against known statistics.
//
// Description:
//
//	In non-strict mode only claims that can be concretely disproved are
//	flagged: an "average of N" claim is checked against the true mean
//	when one is known, and silently skipped otherwise. In strict mode
//	any percentage-change claim that cannot be verified at all is also
//	flagged - unverifiable is not the same as false, but strict callers
//	treat unverifiable as risky.
//
// Inputs:
//
//	text - The generated text.
//	stats - Known aggregates keyed "average", "total", "max", "min".
//	strict - Overrides the validator's strict mode when non-nil semantics
//	  are needed; pass v.Strict() to inherit.
func (v *Validator) CheckStatisticalClaims(text string, stats map[string]float64, strict bool) Result {
	var discrepancies []string

	for _, claim := range ExtractAggregateClaims(text) {
		actual, ok := stats[claim.Subject]
		if !ok || actual == 0 {
			continue
		}
		if math.Abs(claim.Value-actual)/math.Abs(actual) > v.tolerance {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"%s claim '%s' does not match actual %s '%s'",
				claim.Subject, formatValue(claim.Value), claim.Subject, formatValue(actual)))
		}
	}

	if strict {
		for _, claim := range ExtractPercentageChangeClaims(text) {
			discrepancies = append(discrepancies, fmt.Sprintf(
				"unverifiable statistical claim found: %q", claim.Raw))
		}
	}

	return resultFrom(discrepancies, map[string]any{
		"strict_mode": strict,
	})
}

// roundTo rounds v to the nearest multiple of unit.
func roundTo(v, unit float64) float64 {
	return math.Round(v/unit) * unit
}

// formatValue renders a value the way discrepancy messages expect:
// integers without a decimal point.
func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
