// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"strings"
	"testing"
)

func testComposerValidator(t *testing.T) *ComposerValidator {
	t.Helper()
	return NewComposerValidator(DefaultConfig(), DefaultComposerConfig(), nil)
}

func TestCheckSectionConsistency_ConsistentSections(t *testing.T) {
	c := testComposerValidator(t)
	sections := map[string]string{
		"summary": "MateoUwU dealt 114622 damage overall.",
		"detail":  "In the breakdown, MateoUwU dealt 114622 damage across all phases.",
	}

	r := c.CheckSectionConsistency(sections)
	if r.TripwireTriggered {
		t.Errorf("identical values across sections must pass: %+v", r.Discrepancies)
	}
}

func TestCheckSectionConsistency_RoundedRestatement(t *testing.T) {
	c := testComposerValidator(t)
	// 115000 vs 114622 is restating at different granularity, not a
	// contradiction; divergence is well under the 100% ratio.
	sections := map[string]string{
		"summary": "MateoUwU dealt 115,000 damage.",
		"detail":  "MateoUwU dealt 114,622 damage.",
	}

	r := c.CheckSectionConsistency(sections)
	if r.TripwireTriggered {
		t.Errorf("rounded restatement must pass: %+v", r.Discrepancies)
	}
}

func TestCheckSectionConsistency_Contradiction(t *testing.T) {
	c := testComposerValidator(t)
	sections := map[string]string{
		"summary": "MateoUwU dealt 250,000 damage.",
		"detail":  "MateoUwU dealt 114,622 damage.",
	}

	r := c.CheckSectionConsistency(sections)
	if !r.TripwireTriggered {
		t.Fatal("values diverging by more than 100% must fail")
	}
	if !strings.Contains(strings.ToLower(r.Discrepancies[0]), "mateouwu") {
		t.Errorf("discrepancy should name the subject: %+v", r.Discrepancies)
	}
}

func TestCheckSectionConsistency_ThreeSectionsMixedRatios(t *testing.T) {
	c := testComposerValidator(t)
	// No adjacent pair diverges past the ratio against the middle value,
	// but 100 vs 250 does. Every pair must be compared, whichever section
	// happens to be seen first.
	sections := map[string]string{
		"summary":  "Zimp dealt 150 damage in the opening phase.",
		"detail":   "Zimp dealt 100 damage before the first objective.",
		"appendix": "Zimp dealt 250 damage according to the raw log.",
	}

	for i := 0; i < 20; i++ {
		r := c.CheckSectionConsistency(sections)
		if !r.TripwireTriggered {
			t.Fatal("100 vs 250 diverges by more than 100% and must fail")
		}
	}
}

func TestCheckComprehensiveness(t *testing.T) {
	c := testComposerValidator(t)
	findings := []string{
		"MateoUwU topped team damage with 114622",
		"healing output collapsed after minute twenty",
	}

	covered := "MateoUwU topped the damage charts at 114622 while healing collapsed near minute twenty."
	if r := c.CheckComprehensiveness(covered, findings); r.TripwireTriggered {
		t.Errorf("text covering both findings must pass: %+v", r.Discrepancies)
	}

	sparse := "The match lasted thirty minutes and both teams played well."
	if r := c.CheckComprehensiveness(sparse, findings); !r.TripwireTriggered {
		t.Error("text covering no findings must fail")
	}
}

func TestCheckComprehensiveness_NoFindingsIsAdvisory(t *testing.T) {
	c := testComposerValidator(t)

	r := c.CheckComprehensiveness("any text", nil)
	if r.TripwireTriggered {
		t.Error("no findings means nothing to verify, not a failure")
	}
	if len(r.Discrepancies) == 0 {
		t.Error("the skipped check should leave an advisory note")
	}
}

func TestComposerValidate_EndToEnd(t *testing.T) {
	c := testComposerValidator(t)
	ref := NewReferenceSet()
	ref.AddEntity("player", "MateoUwU", "p1")
	ref.Values = []float64{114622}

	sections := map[string]string{
		"answer":  "MateoUwU dealt 114,622 damage, the highest on either team.",
		"support": "MateoUwU dealt 114,622 damage according to the combat log.",
	}
	findings := []string{"MateoUwU topped team damage with 114622"}

	ok := c.Validate(sections, findings, ref)
	if ok.TripwireTriggered {
		t.Errorf("grounded composition must pass: %+v", ok.Discrepancies)
	}

	sections["support"] = "Zeus dealt 114,622 damage according to the combat log."
	bad := c.Validate(sections, findings, ref)
	if !bad.TripwireTriggered {
		t.Error("sentinel in a supporting section must fail")
	}
}
