// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"regexp"
	"strconv"
	"strings"
)

// ClaimType categorizes a factual assertion extracted from generated text.
type ClaimType string

const (
	// ClaimEntity is a mention of a named entity (player, ability, item).
	ClaimEntity ClaimType = "entity"

	// ClaimNumeric is a bare or contextual numeric value.
	ClaimNumeric ClaimType = "numeric"

	// ClaimPercentage is a percentage-style value.
	ClaimPercentage ClaimType = "percentage"

	// ClaimTrend is a directional statement about a series.
	ClaimTrend ClaimType = "trend"

	// ClaimAggregate is a statistical aggregate (average, total, max, min).
	ClaimAggregate ClaimType = "aggregate"
)

// Claim is a single extracted (type, subject, value) triple.
//
// Claims are produced and consumed within one validation call; they are
// never persisted.
type Claim struct {
	// Type is the kind of assertion.
	Type ClaimType

	// Subject is the entity or aggregate the claim is about, when one
	// could be determined ("MateoUwU", "average").
	Subject string

	// Value is the numeric payload for numeric/percentage/aggregate
	// claims; zero for entity and trend claims.
	Value float64

	// Direction is the claimed direction for trend claims
	// ("increasing", "decreasing", "stable", "fluctuating").
	Direction string

	// Raw is the exact matched text.
	Raw string
}

// numberGroup matches an integer with optional thousands separators or a
// decimal, as a capture group.
const numberGroup = `(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)`

// defaultNumericPatterns are the contextual patterns used to pull numbers
// out of generated text. Each must capture the number in group 1.
var defaultNumericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)total(?:\s+\w+)?:?\s+` + numberGroup),
	regexp.MustCompile(`(?i)` + numberGroup + `\s+damage`),
	regexp.MustCompile(`(?i)damage\s+of\s+` + numberGroup),
	regexp.MustCompile(`(?i)dealt\s+` + numberGroup),
	regexp.MustCompile(`(?i)healed\s+(?:for\s+)?` + numberGroup),
	regexp.MustCompile(`(?i)` + numberGroup + `\s+(?:kills|deaths|assists|gold|healing)`),
}

var percentagePattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*(?:%|percent)`)

// percentageChangePatterns match percentage claims that assert a change or
// comparison; group 1 is the value, the verb determines direction.
var percentageChangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:increased|grew|rose)\s+by\s+(\d{1,3}(?:\.\d+)?)%`),
	regexp.MustCompile(`(?i)(?:decreased|fell|dropped)\s+by\s+(\d{1,3}(?:\.\d+)?)%`),
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)%\s+(?:higher|lower|more|less|greater)`),
}

// trendPattern captures "<subject> is/was/were <direction-word>".
var trendPattern = regexp.MustCompile(
	`(?i)([\w' ]+?)\s+(?:is|are|was|were|has\s+been|have\s+been)\s+` +
		`(increasing|rising|growing|climbing|decreasing|falling|declining|dropping|stable|steady|constant|flat|fluctuating|volatile|varying)`)

// aggregatePatterns map an aggregate kind to the patterns that assert it.
var aggregatePatterns = map[string][]*regexp.Regexp{
	"average": {
		regexp.MustCompile(`(?i)average\s+of\s+` + numberGroup),
		regexp.MustCompile(`(?i)` + numberGroup + `\s+on\s+average`),
		regexp.MustCompile(`(?i)averag(?:ed|ing)\s+` + numberGroup),
	},
	"total": {
		regexp.MustCompile(`(?i)total\s+of\s+` + numberGroup),
		regexp.MustCompile(`(?i)` + numberGroup + `\s+in\s+total`),
	},
	"max": {
		regexp.MustCompile(`(?i)maximum\s+of\s+` + numberGroup),
		regexp.MustCompile(`(?i)highest\s+at\s+` + numberGroup),
		regexp.MustCompile(`(?i)peaked?\s+at\s+` + numberGroup),
	},
	"min": {
		regexp.MustCompile(`(?i)minimum\s+of\s+` + numberGroup),
		regexp.MustCompile(`(?i)lowest\s+at\s+` + numberGroup),
	},
}

// entityNearVerbPattern captures a capitalized token adjacent to claim
// verbs; used by the strict fabrication heuristic.
var entityNearVerbPattern = regexp.MustCompile(
	`\b([A-Z][A-Za-z0-9_]{2,})\b\s+(?:dealt|did|had|scored|was|killed|healed)`)

// parseNumber converts a matched number string (possibly with thousands
// separators) to a float64.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractNumericClaims scans text with the given contextual patterns and
// returns one numeric claim per match. A nil patterns slice uses the
// default pattern library.
func ExtractNumericClaims(text string, patterns []*regexp.Regexp) []Claim {
	if patterns == nil {
		patterns = defaultNumericPatterns
	}
	var claims []Claim
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			v, ok := parseNumber(m[1])
			if !ok {
				continue
			}
			claims = append(claims, Claim{
				Type:  ClaimNumeric,
				Value: v,
				Raw:   m[0],
			})
		}
	}
	return claims
}

// ExtractPercentageClaims returns every percentage-style value in text.
func ExtractPercentageClaims(text string) []Claim {
	var claims []Claim
	for _, m := range percentagePattern.FindAllStringSubmatch(text, -1) {
		v, ok := parseNumber(m[1])
		if !ok {
			continue
		}
		claims = append(claims, Claim{
			Type:  ClaimPercentage,
			Value: v,
			Raw:   m[0],
		})
	}
	return claims
}

// ExtractPercentageChangeClaims returns percentage claims that assert a
// change or a comparison ("increased by 12%", "30% higher").
func ExtractPercentageChangeClaims(text string) []Claim {
	var claims []Claim
	for _, p := range percentageChangePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			v, ok := parseNumber(m[1])
			if !ok {
				continue
			}
			claims = append(claims, Claim{
				Type:  ClaimPercentage,
				Value: v,
				Raw:   m[0],
			})
		}
	}
	return claims
}

// ExtractTrendClaims returns directional statements with their subject and
// normalized direction.
func ExtractTrendClaims(text string) []Claim {
	var claims []Claim
	for _, m := range trendPattern.FindAllStringSubmatch(text, -1) {
		claims = append(claims, Claim{
			Type:      ClaimTrend,
			Subject:   strings.TrimSpace(m[1]),
			Direction: normalizeTrend(m[2]),
			Raw:       m[0],
		})
	}
	return claims
}

// ExtractAggregateClaims returns statistical aggregate claims. The Subject
// field carries the aggregate kind ("average", "total", "max", "min").
func ExtractAggregateClaims(text string) []Claim {
	var claims []Claim
	for kind, patterns := range aggregatePatterns {
		for _, p := range patterns {
			for _, m := range p.FindAllStringSubmatch(text, -1) {
				v, ok := parseNumber(m[1])
				if !ok {
					continue
				}
				claims = append(claims, Claim{
					Type:    ClaimAggregate,
					Subject: kind,
					Value:   v,
					Raw:     m[0],
				})
			}
		}
	}
	return claims
}

// normalizeTrend maps a matched direction word to one of the four
// canonical trend labels.
func normalizeTrend(word string) string {
	switch strings.ToLower(word) {
	case "increasing", "rising", "growing", "climbing":
		return "increasing"
	case "decreasing", "falling", "declining", "dropping":
		return "decreasing"
	case "fluctuating", "volatile", "varying":
		return "fluctuating"
	default:
		return "stable"
	}
}

// containsWord reports whether text contains name as a whole word,
// case-insensitively.
func containsWord(text, name string) bool {
	if name == "" {
		return false
	}
	p, err := wordPattern(name)
	if err != nil {
		return false
	}
	return p.MatchString(text)
}

func wordPattern(name string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
}
