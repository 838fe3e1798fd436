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
	"sort"
	"strings"
)

// ComposerValidator validates the final composed answer: internal
// consistency between its sections and comprehensiveness against the
// findings of earlier stages.
//
// Thread Safety: Safe for concurrent use after construction.
type ComposerValidator struct {
	*Validator
	contradictionRatio float64
	comprehensiveness  float64
}

// NewComposerValidator creates the final-composition validator.
func NewComposerValidator(base Config, cfg ComposerConfig, logger *slog.Logger) *ComposerValidator {
	if cfg.ContradictionRatio <= 0 {
		cfg.ContradictionRatio = DefaultComposerConfig().ContradictionRatio
	}
	if cfg.ComprehensivenessFraction <= 0 {
		cfg.ComprehensivenessFraction = DefaultComposerConfig().ComprehensivenessFraction
	}
	return &ComposerValidator{
		Validator:          NewValidator("composer_validator", base, logger),
		contradictionRatio: cfg.ContradictionRatio,
		comprehensiveness:  cfg.ComprehensivenessFraction,
	}
}

// Validate runs the full composition validation: base fidelity checks on
// the final text plus section consistency and comprehensiveness.
//
// Inputs:
//
//	sections - Named sections of the answer in presentation order.
//	keyFindings - Finding descriptions from the analysis stage.
//	ref - The request's reference set.
func (c *ComposerValidator) Validate(sections map[string]string, keyFindings []string, ref *ReferenceSet) Result {
	full := joinSections(sections)
	results := []Result{
		c.CheckEntityPresence(full, ref.EntityNames("player"), "player", 1),
		c.CheckNoFabricatedEntities(full, ref.EntityNames("player"), "player"),
		c.CheckNumericPlausibility(full, ref.Values, nil),
		c.CheckSectionConsistency(sections),
		c.CheckComprehensiveness(full, keyFindings),
	}
	return Combine(results...)
}

// subjectValuePattern captures "<subject> dealt/did/had <number>" claims
// for cross-section comparison.
var subjectValuePattern = regexp.MustCompile(
	`(?i)\b([A-Za-z0-9_]+)\s+(?:dealt|did|had|scored|caused|took)\s+` + numberGroup)

// CheckSectionConsistency flags the same named quantity differing by more
// than the contradiction ratio between two sections of one answer.
//
// Description:
//
//	This is a coarse contradiction detector, not an equality check: the
//	default ratio of 1.0 only fires when one section claims more than
//	double the other. Answers legitimately restate quantities at
//	different granularity (rounded in the summary, exact in the
//	supporting data), so a tight threshold would drown real
//	contradictions in noise. Sections are walked in name order and each
//	claim is compared against every earlier claim for the same subject,
//	so the verdict does not depend on map iteration order.
func (c *ComposerValidator) CheckSectionConsistency(sections map[string]string) Result {
	type seen struct {
		section string
		value   float64
	}
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	claims := make(map[string][]seen)
	var discrepancies []string

	for _, name := range names {
		for _, m := range subjectValuePattern.FindAllStringSubmatch(sections[name], -1) {
			subject := strings.ToLower(m[1])
			value, ok := parseNumber(m[2])
			if !ok {
				continue
			}
			for _, prev := range claims[subject] {
				smaller := math.Min(prev.value, value)
				if smaller == 0 {
					continue
				}
				if math.Abs(prev.value-value)/smaller > c.contradictionRatio {
					discrepancies = append(discrepancies, fmt.Sprintf(
						"inconsistent values for %q: %s in section %q vs %s in section %q",
						m[1], formatValue(prev.value), prev.section, formatValue(value), name))
				}
			}
			claims[subject] = append(claims[subject], seen{section: name, value: value})
		}
	}

	return resultFrom(discrepancies, map[string]any{
		"sections_checked": len(sections),
	})
}

// CheckComprehensiveness verifies that a configured fraction of the prior
// stages' key findings are represented in the final text, by salient-word
// overlap.
func (c *ComposerValidator) CheckComprehensiveness(text string, keyFindings []string) Result {
	if len(keyFindings) == 0 {
		return SoftResult(map[string]any{"key_findings": 0},
			"no key findings from previous stages available for comprehensiveness validation")
	}

	textLower := strings.ToLower(text)
	covered := 0
	for _, finding := range keyFindings {
		words := salientWords(finding)
		if len(words) == 0 {
			covered++
			continue
		}
		hits := 0
		for _, w := range words {
			if strings.Contains(textLower, w) {
				hits++
			}
		}
		if float64(hits)/float64(len(words)) >= 0.5 {
			covered++
		}
	}

	fraction := float64(covered) / float64(len(keyFindings))
	ctx := map[string]any{
		"findings_total":   len(keyFindings),
		"findings_covered": covered,
	}
	if fraction < c.comprehensiveness {
		return FailResult(ctx, fmt.Sprintf(
			"final response covers only %d of %d key findings (%.0f%% required)",
			covered, len(keyFindings), c.comprehensiveness*100))
	}
	return PassResult(ctx)
}

// salientWords returns the words of a finding worth looking for in the
// final text: longer than three characters and not a stopword.
func salientWords(finding string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(finding)) {
		w = strings.Trim(w, ".,:;!?()\"'")
		if len(w) <= 3 || composerStopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

var composerStopwords = map[string]bool{
	"with": true, "that": true, "this": true, "from": true, "were": true,
	"have": true, "been": true, "than": true, "most": true, "more": true,
	"their": true, "they": true, "which": true, "while": true, "about": true,
	"total": true, "damage": true,
}

func joinSections(sections map[string]string) string {
	var b strings.Builder
	for _, text := range sections {
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
