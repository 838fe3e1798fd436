// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/matchlens/services/analyst/db"
	"github.com/AleutianAI/matchlens/services/analyst/guardrails"
	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

func fixtureStore(t *testing.T) (*db.Store, *db.Schema) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "match.db")

	rw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	_, err = rw.Exec(`
	CREATE TABLE players (
		id INTEGER PRIMARY KEY,
		player_name TEXT NOT NULL,
		team INTEGER
	);
	CREATE TABLE damage_totals (
		player_name TEXT,
		total_damage INTEGER
	);
	INSERT INTO players VALUES (1, 'MateoUwU', 1), (2, 'Zimp', 1), (3, 'Nika', 2);
	INSERT INTO damage_totals VALUES ('MateoUwU', 114622), ('Zimp', 98000), ('Nika', 45000);
	`)
	rw.Close()
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}

	store, err := db.Open(path, nil)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	schema, err := store.Introspect(context.Background())
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	return store, schema
}

func newTestAgents(t *testing.T, gen llm.Generator) *Agents {
	t.Helper()
	store, schema := fixtureStore(t)
	return NewAgents(store, schema, gen, Options{Guardrails: guardrails.DefaultConfig()})
}

const planJSON = `{
  "query_type": "combat",
  "intent": "find the top damage dealer",
  "required_tables": ["damage_totals"],
  "sub_queries": [
    {"query_id": "q1", "sql": "SELECT player_name, total_damage FROM damage_totals ORDER BY total_damage DESC", "purpose": "damage per player"}
  ],
  "anticipated_followups": ["how much healing did they do?"]
}`

func TestPlan_StoresDecodedPlan(t *testing.T) {
	gen := llm.NewMockGenerator("").Respond("Question:", planJSON)
	a := newTestAgents(t, gen)
	c := pipeline.NewCarrier("who dealt the most damage?", "ignored", nil)

	if err := a.Plan(context.Background(), c); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if c.Plan == nil || len(c.Plan.SubQueries) != 1 {
		t.Fatalf("plan not stored: %+v", c.Plan)
	}
	if c.Plan.SubQueries[0].QueryID != "q1" {
		t.Errorf("unexpected sub-query: %+v", c.Plan.SubQueries[0])
	}
}

func TestPlan_FencedJSONAccepted(t *testing.T) {
	gen := llm.NewMockGenerator("").Respond("Question:", "```json\n"+planJSON+"\n```")
	a := newTestAgents(t, gen)
	c := pipeline.NewCarrier("q", "ignored", nil)

	if err := a.Plan(context.Background(), c); err != nil {
		t.Fatalf("Plan should tolerate fenced JSON: %v", err)
	}
}

func TestPlan_DuplicateQueryIDsRenamed(t *testing.T) {
	const sloppyPlan = `{
	  "query_type": "combat",
	  "intent": "damage and healing",
	  "sub_queries": [
	    {"query_id": "q1", "sql": "SELECT player_name, total_damage FROM damage_totals", "purpose": "damage"},
	    {"query_id": "q1", "sql": "SELECT player_name FROM players", "purpose": "roster"},
	    {"query_id": "", "sql": "SELECT COUNT(*) FROM players", "purpose": "head count"}
	  ]
	}`
	gen := llm.NewMockGenerator("").Respond("Question:", sloppyPlan)
	a := newTestAgents(t, gen)
	c := pipeline.NewCarrier("q", "ignored", nil)

	if err := a.Plan(context.Background(), c); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	ids := make(map[string]bool)
	for _, sub := range c.Plan.SubQueries {
		if sub.QueryID == "" {
			t.Errorf("blank id survived planning: %+v", sub)
		}
		if ids[sub.QueryID] {
			t.Errorf("duplicate id %q survived planning", sub.QueryID)
		}
		ids[sub.QueryID] = true
	}
	// The repaired plan must execute end to end.
	if err := a.Execute(context.Background(), c); err != nil {
		t.Fatalf("repaired plan failed to execute: %v", err)
	}
	if len(c.ResultIDs()) != 3 {
		t.Errorf("expected 3 attached results, got %v", c.ResultIDs())
	}
}

func TestPlan_UnusableResponseIsAnError(t *testing.T) {
	gen := llm.NewMockGenerator("I cannot answer that.")
	a := newTestAgents(t, gen)
	c := pipeline.NewCarrier("q", "ignored", nil)

	if err := a.Plan(context.Background(), c); err == nil {
		t.Fatal("prose response must be an error")
	}
}

func seededCarrier(t *testing.T, a *Agents) *pipeline.Carrier {
	t.Helper()
	c := pipeline.NewCarrier("who dealt the most damage?", "ignored", nil)
	c.SetPlan(&pipeline.QueryPlan{
		QueryType: "combat",
		SubQueries: []pipeline.SubQueryPlan{{
			QueryID: "q1",
			SQL:     "SELECT player_name, total_damage FROM damage_totals ORDER BY total_damage DESC",
			Purpose: "damage per player",
		}},
	})
	if err := a.Execute(context.Background(), c); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return c
}

func TestExecute_AttachesRowsAndRecordsValidation(t *testing.T) {
	a := newTestAgents(t, llm.NewMockGenerator(""))
	c := seededCarrier(t, a)

	result := c.QueryResults["q1"]
	if result.Failed {
		t.Fatalf("query failed: %s", result.Error)
	}
	if result.RowCount != 3 {
		t.Errorf("expected 3 rows, got %d", result.RowCount)
	}
	if len(c.Validation) == 0 {
		t.Error("execution should record a validation verdict")
	}
}

func TestExecute_ForbiddenQueryNeverReachesTheStore(t *testing.T) {
	a := newTestAgents(t, llm.NewMockGenerator(""))
	c := pipeline.NewCarrier("q", "ignored", nil)
	c.SetPlan(&pipeline.QueryPlan{
		SubQueries: []pipeline.SubQueryPlan{{QueryID: "q1", SQL: "DELETE FROM players"}},
	})

	err := a.Execute(context.Background(), c)
	if !errors.Is(err, pipeline.ErrDataUnavailable) {
		t.Fatalf("expected data-unavailable after total failure, got: %v", err)
	}
	if !c.QueryResults["q1"].Failed {
		t.Error("rejected query should be recorded as failed")
	}
	if !strings.Contains(c.QueryResults["q1"].Error, "rejected") {
		t.Errorf("failure should cite the rejection: %s", c.QueryResults["q1"].Error)
	}
}

func TestExecute_WithoutPlan(t *testing.T) {
	a := newTestAgents(t, llm.NewMockGenerator(""))
	c := pipeline.NewCarrier("q", "ignored", nil)

	if err := a.Execute(context.Background(), c); !errors.Is(err, pipeline.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got: %v", err)
	}
}

const analysisJSON = `{
  "key_findings": [
    {"description": "MateoUwU dealt 114,622 damage, the highest in the match", "significance": "high", "supporting_data": "q1"}
  ],
  "patterns": [],
  "comparisons": [
    {"description": "Zephyr dealt 150,000 damage", "significance": "high", "supporting_data": "q1"}
  ],
  "recommended_charts": [
    {"type": "bar", "title": "Total damage by player name", "data_source": "q1", "x_column": "player_name", "y_column": "total_damage", "importance": "high"}
  ]
}`

func TestAnalyze_KeepsGroundedDropsFabricated(t *testing.T) {
	gen := llm.NewMockGenerator("").Respond("Query results", analysisJSON)
	a := newTestAgents(t, gen)
	c := seededCarrier(t, a)

	if err := a.Analyze(context.Background(), c); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(c.Analysis.KeyFindings) != 1 {
		t.Fatalf("grounded finding should survive: %+v", c.Analysis.KeyFindings)
	}
	if len(c.Analysis.Comparisons) != 0 {
		t.Errorf("sentinel finding should be dropped: %+v", c.Analysis.Comparisons)
	}
	if len(c.Analysis.RecommendedCharts) != 1 {
		t.Errorf("valid chart recommendation should survive: %+v", c.Analysis.RecommendedCharts)
	}

	// The dropped finding leaves a failed verdict on the ledger.
	if c.Validated() {
		t.Error("ledger must reflect the dropped finding")
	}
}

func TestAnalyze_NothingSurvives(t *testing.T) {
	fabricated := `{"key_findings":[{"description":"Zeus dealt 999,999 damage","significance":"high","supporting_data":"q1"}],"patterns":[],"comparisons":[],"recommended_charts":[]}`
	gen := llm.NewMockGenerator("").Respond("Query results", fabricated)
	a := newTestAgents(t, gen)
	c := seededCarrier(t, a)

	err := a.Analyze(context.Background(), c)
	if !errors.Is(err, pipeline.ErrDataUnavailable) {
		t.Fatalf("all-fabricated analysis should be data-unavailable, got: %v", err)
	}
}

func TestCompose_GroundedAnswerPasses(t *testing.T) {
	gen := llm.NewMockGenerator("").
		Respond("Query results", analysisJSON).
		Respond("Key findings", "MateoUwU dealt 114,622 damage, the highest in the match.")
	a := newTestAgents(t, gen)
	c := seededCarrier(t, a)
	if err := a.Analyze(context.Background(), c); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if err := a.Compose(context.Background(), c); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if c.FinalOutput == "" {
		t.Fatal("final output not set")
	}
	if !c.Validated() {
		// The analyze stage already failed one verdict (the dropped
		// comparison), so the full ledger cannot be all-passed; check
		// only the compose entry.
		for _, v := range c.Validation {
			if v.Stage == StageCompose && !v.Passed {
				t.Errorf("compose verdict should pass: %+v", v)
			}
		}
	}
}

func TestCompose_RetriesThenKeepsSuspectAnswer(t *testing.T) {
	gen := llm.NewMockGenerator("").
		Respond("Query results", analysisJSON).
		Respond("Key findings", "Athena dealt 500,000 damage.")
	a := newTestAgents(t, gen)
	c := seededCarrier(t, a)
	if err := a.Analyze(context.Background(), c); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	calls := gen.CallCount()
	if err := a.Compose(context.Background(), c); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if gen.CallCount()-calls != composeAttempts {
		t.Errorf("expected %d compose attempts, got %d", composeAttempts, gen.CallCount()-calls)
	}
	if c.FinalOutput == "" {
		t.Error("suspect answer is kept, with the failed verdict on the ledger")
	}
	failed := false
	for _, v := range c.FailedValidations() {
		if v.Stage == StageCompose {
			failed = true
		}
	}
	if !failed {
		t.Error("compose verdict should be recorded as failed")
	}
}

func TestCompose_WithoutFindings(t *testing.T) {
	a := newTestAgents(t, llm.NewMockGenerator(""))
	c := pipeline.NewCarrier("q", "ignored", nil)

	if err := a.Compose(context.Background(), c); !errors.Is(err, pipeline.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got: %v", err)
	}
}

func TestFullPipeline_EndToEnd(t *testing.T) {
	gen := llm.NewMockGenerator("").
		Respond("Schema:", planJSON).
		Respond("Query results", analysisJSON).
		Respond("Key findings", "MateoUwU dealt 114,622 damage, the highest in the match.")
	a := newTestAgents(t, gen)

	orch, err := pipeline.NewOrchestrator(a.Pipeline(), 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	c := pipeline.NewCarrier("who dealt the most damage?", "ignored", nil)
	if err := orch.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if c.FinalOutput == "" {
		t.Error("pipeline should produce a final answer")
	}
	if len(c.StageHistory) != 4 {
		t.Errorf("expected 4 stage entries, got %d", len(c.StageHistory))
	}
	if got := c.CurrentStage(); got != "" {
		t.Errorf("no stage should remain open, got %q", got)
	}
}
