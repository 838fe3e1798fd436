// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

// Result is the outcome of a single validation pass.
//
// A Result is immutable after construction. Discrepancies are ordered,
// human-readable descriptions of claims that failed verification. Context
// carries free-form diagnostic values (found counts, extracted values,
// claimed vs actual) for the validation ledger and debug dumps.
//
// Invariant: TripwireTriggered is true iff Discrepancies is non-empty,
// unless the Result was explicitly built as a soft warning via SoftResult.
type Result struct {
	// Discrepancies describes each claim that failed verification.
	Discrepancies []string `json:"discrepancies,omitempty"`

	// Context holds diagnostic values keyed by name.
	Context map[string]any `json:"context,omitempty"`

	// TripwireTriggered is true if the validated text should be treated
	// as suspect.
	TripwireTriggered bool `json:"tripwire_triggered"`
}

// PassResult returns a passing Result carrying the given context.
func PassResult(context map[string]any) Result {
	return Result{Context: context}
}

// FailResult returns a failing Result from the given discrepancies.
//
// Inputs:
//
//	context - Diagnostic values, may be nil.
//	discrepancies - At least one description of what failed.
func FailResult(context map[string]any, discrepancies ...string) Result {
	return Result{
		Discrepancies:     discrepancies,
		Context:           context,
		TripwireTriggered: len(discrepancies) > 0,
	}
}

// SoftResult returns a Result that records discrepancies without
// triggering the tripwire. Used for advisory checks where the finding
// should surface in the ledger but must not fail the text.
func SoftResult(context map[string]any, discrepancies ...string) Result {
	return Result{
		Discrepancies: discrepancies,
		Context:       context,
	}
}

// resultFrom builds a Result whose verdict follows the discrepancy list.
func resultFrom(discrepancies []string, context map[string]any) Result {
	return Result{
		Discrepancies:     discrepancies,
		Context:           context,
		TripwireTriggered: len(discrepancies) > 0,
	}
}

// Combine reduces any number of Results into one.
//
// Description:
//
//	Discrepancies are concatenated in argument order, context maps are
//	merged with later results winning on key collision, and verdicts are
//	ORed. Combine is associative and commutative with respect to the
//	verdict and order-preserving with respect to discrepancies.
//
// Outputs:
//
//	Result - The combined result. Combining zero results yields a pass.
func Combine(results ...Result) Result {
	var combined Result
	for _, r := range results {
		combined.Discrepancies = append(combined.Discrepancies, r.Discrepancies...)
		if len(r.Context) > 0 {
			if combined.Context == nil {
				combined.Context = make(map[string]any, len(r.Context))
			}
			for k, v := range r.Context {
				combined.Context[k] = v
			}
		}
		combined.TripwireTriggered = combined.TripwireTriggered || r.TripwireTriggered
	}
	return combined
}
