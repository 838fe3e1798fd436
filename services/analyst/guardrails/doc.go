// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrails validates generated analytical text against the data
// it claims to describe.
//
// Every answer the pipeline produces is the output of a language model, and
// language models fabricate: player names that never appear in the match,
// damage totals that exist in no query result, trends that run the wrong
// way. The guardrails in this package extract claims from generated text
// (entity mentions, numbers, percentages, trend statements) and cross-check
// them against a ReferenceSet built from the rows actually returned by the
// database.
//
// The package is organized as a shared base Validator providing the four
// fundamental checks (entity presence, fabricated entities, numeric
// plausibility, statistical claims) plus one domain validator per pipeline
// stage:
//
//   - SQLValidator - query safety and schema adherence
//   - AnalysisValidator - statistical and trend claim accuracy
//   - VisualizationValidator - chart descriptor fidelity
//   - ComposerValidator - cross-section consistency and comprehensiveness
//
// All checks return a Result; Combine reduces many Results into one.
// A triggered tripwire is advisory by default: the pipeline records the
// verdict on its validation ledger and only escalates in strict mode.
//
// False-positive policy: for numeric checks a value is never flagged if it
// matches any known value within tolerance or a common human rounding of
// one (nearest 100/1000). For sentinel entity names the opposite holds -
// any hit is an immediate failure, since inventing a name is unambiguous.
package guardrails
