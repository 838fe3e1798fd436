// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stages implements the four pipeline stages of a natural-language
// match analysis: query planning, SQL execution, statistical analysis, and
// final composition. Each stage writes its output to the carrier and
// records its guardrail verdict on the validation ledger.
package stages

import (
	"log/slog"

	"github.com/AleutianAI/matchlens/services/analyst/db"
	"github.com/AleutianAI/matchlens/services/analyst/guardrails"
	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

// Stage names as they appear in the carrier's history and logs.
const (
	StagePlan    = "query_understanding"
	StageExecute = "sql_execution"
	StageAnalyze = "analysis"
	StageCompose = "composition"
)

// Agents bundles the dependencies shared by all stages.
//
// Thread Safety: Safe for concurrent use; each stage invocation works on
// its own carrier.
type Agents struct {
	store     *db.Store
	schema    *db.Schema
	generator llm.Generator
	logger    *slog.Logger

	sqlValidator      *guardrails.SQLValidator
	analysisValidator *guardrails.AnalysisValidator
	composerValidator *guardrails.ComposerValidator
	vizValidator      *guardrails.VisualizationValidator

	maxConcurrent int
}

// Options configure NewAgents beyond its required dependencies.
type Options struct {
	// Guardrails is the base validator configuration (tolerance, strict
	// mode, sentinels).
	Guardrails guardrails.Config

	// MaxConcurrentQueries caps the execution fan-out; <= 0 uses the
	// pipeline default.
	MaxConcurrentQueries int

	Logger *slog.Logger
}

// NewAgents wires the stages against a store, its schema, and a
// generator. The SQL validator's allow-lists come from the schema.
func NewAgents(store *db.Store, schema *db.Schema, generator llm.Generator, opts Options) *Agents {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sqlCfg := guardrails.DefaultSQLConfig()
	sqlCfg.ValidTables, sqlCfg.ValidColumns = schema.AllowLists()

	return &Agents{
		store:     store,
		schema:    schema,
		generator: generator,
		logger:    logger,

		sqlValidator:      guardrails.NewSQLValidator(opts.Guardrails, sqlCfg, logger),
		analysisValidator: guardrails.NewAnalysisValidator(opts.Guardrails, guardrails.DefaultAnalysisConfig(), logger),
		composerValidator: guardrails.NewComposerValidator(opts.Guardrails, guardrails.DefaultComposerConfig(), logger),
		vizValidator:      guardrails.NewVisualizationValidator(opts.Guardrails, guardrails.DefaultVisualizationConfig(), logger),

		maxConcurrent: opts.MaxConcurrentQueries,
	}
}

// Pipeline returns the four stages in execution order, ready for an
// orchestrator.
//
// Planning and execution are mandatory: without a plan or data there is
// nothing to analyze. Analysis and composition degrade instead, so a
// late-stage failure still returns the raw results to the caller.
func (a *Agents) Pipeline() []pipeline.Stage {
	return []pipeline.Stage{
		{Name: StagePlan, AgentID: "planner", Run: a.Plan, Mandatory: true, MaxRetries: 1},
		{Name: StageExecute, AgentID: "engineer", Run: a.Execute, Mandatory: true},
		{Name: StageAnalyze, AgentID: "analyst", Run: a.Analyze, MaxRetries: 1},
		{Name: StageCompose, AgentID: "composer", Run: a.Compose, MaxRetries: 1},
	}
}
