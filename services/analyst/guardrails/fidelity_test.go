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

func testValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	return NewValidator("test_validator", cfg, nil)
}

func knownPlayers() map[string]string {
	return map[string]string{
		"MateoUwU": "p1",
		"Zimp":     "p2",
		"Nika":     "p3",
	}
}

func TestCheckEntityPresence(t *testing.T) {
	v := testValidator(t, DefaultConfig())

	pass := v.CheckEntityPresence("MateoUwU dealt the most damage", knownPlayers(), "player", 1)
	if pass.TripwireTriggered {
		t.Errorf("expected pass, got %+v", pass)
	}

	fail := v.CheckEntityPresence("someone on the team dealt the most damage", knownPlayers(), "player", 1)
	if !fail.TripwireTriggered {
		t.Error("answer naming no known player must fail")
	}

	two := v.CheckEntityPresence("MateoUwU out-damaged Zimp", knownPlayers(), "player", 2)
	if two.TripwireTriggered {
		t.Errorf("expected pass with two named players, got %+v", two)
	}
}

func TestCheckNoFabricatedEntities_SentinelAlwaysFails(t *testing.T) {
	v := testValidator(t, DefaultConfig())

	r := v.CheckNoFabricatedEntities("Zephyr dealt 150,000 damage", knownPlayers(), "player")
	if !r.TripwireTriggered {
		t.Fatal("a sentinel decoy in the response must always fail")
	}
	if len(r.Discrepancies) != 1 || !strings.Contains(r.Discrepancies[0], "Zephyr") {
		t.Errorf("the discrepancy must name the decoy: %+v", r.Discrepancies)
	}
}

func TestCheckNoFabricatedEntities_KnownEntityExemption(t *testing.T) {
	v := testValidator(t, DefaultConfig())

	// If a sentinel name collides with a real player, it is legitimate.
	known := knownPlayers()
	known["Apollo"] = "p4"
	r := v.CheckNoFabricatedEntities("Apollo had the highest healing", known, "player")
	if r.TripwireTriggered {
		t.Errorf("a sentinel that is also a known entity must pass: %+v", r)
	}
}

func TestCheckNoFabricatedEntities_StrictHeuristic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = true
	v := testValidator(t, cfg)

	r := v.CheckNoFabricatedEntities("Bobby dealt 9000 damage", knownPlayers(), "player")
	if !r.TripwireTriggered {
		t.Error("strict mode should flag an unknown capitalized name next to a claim verb")
	}

	ok := v.CheckNoFabricatedEntities("MateoUwU dealt 114,622 damage", knownPlayers(), "player")
	if ok.TripwireTriggered {
		t.Errorf("strict mode must not flag known players: %+v", ok)
	}
}

func TestCheckNumericPlausibility_ExactAndTolerance(t *testing.T) {
	v := testValidator(t, DefaultConfig())
	known := []float64{114622, 98000, 43500}

	exact := v.CheckNumericPlausibility("MateoUwU dealt 114,622 damage", known, nil)
	if exact.TripwireTriggered {
		t.Errorf("exact value must pass: %+v", exact)
	}

	// 117,000 is within 5% of 114,622.
	within := v.CheckNumericPlausibility("MateoUwU dealt 117,000 damage", known, nil)
	if within.TripwireTriggered {
		t.Errorf("value within tolerance must pass: %+v", within)
	}

	fabricated := v.CheckNumericPlausibility("Zephyr dealt 150,000 damage", known, nil)
	if !fabricated.TripwireTriggered {
		t.Fatal("150,000 matches nothing and must fail")
	}
	if !strings.Contains(fabricated.Discrepancies[0], "150000") {
		t.Errorf("the discrepancy must name the value: %+v", fabricated.Discrepancies)
	}
}

func TestCheckNumericPlausibility_RoundingForgiveness(t *testing.T) {
	// 1,900 rounds to 2,000; the 5% band around 1,900 ends at 1,995, so
	// a "2,000" claim is only saved by rounding forgiveness.
	known := []float64{1900}

	v := testValidator(t, DefaultConfig())
	rounded := v.CheckNumericPlausibility("dealt 2,000 damage", known, nil)
	if rounded.TripwireTriggered {
		t.Errorf("rounded form of a known value must pass: %+v", rounded)
	}

	cfg := DefaultConfig()
	cfg.RoundingForgiveness = false
	vNoRounding := testValidator(t, cfg)
	r := vNoRounding.CheckNumericPlausibility("dealt 2,000 damage", known, nil)
	if !r.TripwireTriggered {
		t.Error("without rounding forgiveness, 2,000 vs 1,900 must fail")
	}
}

func TestCheckStatisticalClaims(t *testing.T) {
	v := testValidator(t, DefaultConfig())
	stats := map[string]float64{"average": 45000, "total": 225000, "max": 114622, "min": 12000}

	ok := v.CheckStatisticalClaims("the team dealt an average of 45,000 damage", stats, false)
	if ok.TripwireTriggered {
		t.Errorf("true average must pass: %+v", ok)
	}

	bad := v.CheckStatisticalClaims("the team dealt an average of 90,000 damage", stats, false)
	if !bad.TripwireTriggered {
		t.Error("average off by 2x must fail")
	}

	// Unknown aggregates are skipped in non-strict mode.
	skip := v.CheckStatisticalClaims("damage increased by 40%", stats, false)
	if skip.TripwireTriggered {
		t.Errorf("unverifiable claims must not fail in non-strict mode: %+v", skip)
	}

	strict := v.CheckStatisticalClaims("damage increased by 40%", stats, true)
	if !strict.TripwireTriggered {
		t.Error("strict mode must flag unverifiable change claims")
	}
}

func TestFormatValue(t *testing.T) {
	if got := formatValue(150000); got != "150000" {
		t.Errorf("expected 150000, got %q", got)
	}
	if got := formatValue(34.5); got != "34.5" {
		t.Errorf("expected 34.5, got %q", got)
	}
}
