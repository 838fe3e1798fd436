// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrails

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceSet_AddRows(t *testing.T) {
	ref := NewReferenceSet()
	ref.AddRows("player", []map[string]any{
		{"player_name": "MateoUwU", "god_name": "Loki", "total_damage": int64(114622)},
		{"player_name": "Zimp", "god_name": "Ra", "total_damage": int64(98000)},
		{"item_name": "Deathbringer", "cost": int64(2500)},
	})

	players := ref.EntityNames("player")
	require.NotNil(t, players)
	assert.Contains(t, players, "MateoUwU")
	assert.Contains(t, players, "Zimp")
	// god_name refines to the player kind, item_name to item.
	assert.Contains(t, players, "Loki")
	assert.Contains(t, ref.EntityNames("item"), "Deathbringer")

	assert.ElementsMatch(t, []float64{114622, 98000, 2500}, ref.Values)
}

func TestReferenceSet_StatsRecomputed(t *testing.T) {
	ref := NewReferenceSet()
	ref.AddRows("player", []map[string]any{
		{"damage": int64(100)},
		{"damage": int64(200)},
		{"damage": int64(300)},
	})

	assert.Equal(t, 600.0, ref.Stats["total"])
	assert.Equal(t, 200.0, ref.Stats["average"])
	assert.Equal(t, 300.0, ref.Stats["max"])
	assert.Equal(t, 100.0, ref.Stats["min"])

	// Ingesting more rows folds into the same aggregates.
	ref.AddRows("player", []map[string]any{{"damage": int64(400)}})
	assert.Equal(t, 1000.0, ref.Stats["total"])
	assert.Equal(t, 400.0, ref.Stats["max"])
}

func TestReferenceSet_NonPositiveValuesIgnored(t *testing.T) {
	ref := NewReferenceSet()
	ref.AddRows("player", []map[string]any{
		{"delta": int64(-50), "count": int64(0), "kills": int64(7)},
	})
	assert.Equal(t, []float64{7}, ref.Values)
}

func TestSeriesFor_MatchesByContainment(t *testing.T) {
	ref := NewReferenceSet()
	ref.AddTimeSeries("MateoUwU", []float64{100, 120, 140})

	series := ref.SeriesFor("mateouwu's damage per minute")
	require.Len(t, series, 3)
	assert.Equal(t, 140.0, series[2])

	assert.Nil(t, ref.SeriesFor("someone else entirely"))
}
