// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements the staged request pipeline: the Carrier
// that threads a single request's state through an ordered sequence of
// processing stages, and the Orchestrator that drives it.
//
// The Carrier is an append-only ledger. Every stage adds to it - history
// entries, query results, findings, validation verdicts, errors - and
// nothing is ever removed, which makes a finished carrier a full replay
// of the request for debugging. One carrier belongs to one request; there
// is no cross-request sharing.
package pipeline

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// StageStatus classifies a stage history entry.
type StageStatus string

const (
	// StatusInProgress marks the single open entry, if any.
	StatusInProgress StageStatus = "in_progress"

	// StatusSuccess marks a stage that completed normally.
	StatusSuccess StageStatus = "success"

	// StatusFailed marks a stage that ended in failure.
	StatusFailed StageStatus = "failed"
)

// StageEntry is one record in the carrier's stage history.
type StageEntry struct {
	Stage      string      `json:"stage"`
	AgentID    string      `json:"agent_id"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	DurationMS float64     `json:"duration_ms"`
	Status     StageStatus `json:"status"`
}

// QueryResult holds one executed sub-query and its rows.
type QueryResult struct {
	QueryID       string           `json:"query_id"`
	SQL           string           `json:"sql"`
	Purpose       string           `json:"purpose,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
	RowCount      int              `json:"row_count"`
	ExecutionTime time.Duration    `json:"execution_time"`
	Failed        bool             `json:"failed,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Finding is a derived insight (key finding, pattern, or comparison) with
// a stable generated id.
type Finding struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Significance   string `json:"significance,omitempty"`
	SupportingData string `json:"supporting_data,omitempty"`
}

// ChartRecommendation is a chart the analysis stage suggests rendering.
type ChartRecommendation struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	DataSource string `json:"data_source"`
	XColumn    string `json:"x_column,omitempty"`
	YColumn    string `json:"y_column,omitempty"`
	Importance string `json:"importance,omitempty"`
}

// Analysis accumulates the analysis stage's output.
type Analysis struct {
	KeyFindings       []Finding             `json:"key_findings,omitempty"`
	Patterns          []Finding             `json:"patterns,omitempty"`
	Comparisons       []Finding             `json:"comparisons,omitempty"`
	RecommendedCharts []ChartRecommendation `json:"recommended_charts,omitempty"`
}

// ValidationEntry is one recorded validation verdict.
type ValidationEntry struct {
	Stage         string    `json:"stage"`
	Validator     string    `json:"validator"`
	Timestamp     time.Time `json:"timestamp"`
	Passed        bool      `json:"passed"`
	Discrepancies []string  `json:"discrepancies,omitempty"`
}

// ErrorEntry is one recorded error. Recording an error never fails the
// request; that is the entire point of the ledger.
type ErrorEntry struct {
	Stage       string    `json:"stage"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Recovered   bool      `json:"recovered"`
	Timestamp   time.Time `json:"timestamp"`
}

// SubQueryPlan is one planned sub-query from the query-understanding
// stage.
type SubQueryPlan struct {
	QueryID string `json:"query_id"`
	SQL     string `json:"sql"`
	Purpose string `json:"purpose,omitempty"`
}

// QueryPlan is the structured output of the query-understanding stage.
type QueryPlan struct {
	QueryType            string         `json:"query_type,omitempty"`
	Intent               string         `json:"intent,omitempty"`
	RequiredTables       []string       `json:"required_tables,omitempty"`
	SubQueries           []SubQueryPlan `json:"sub_queries,omitempty"`
	AnticipatedFollowups []string       `json:"anticipated_followups,omitempty"`
}

// Input is the immutable request input section.
type Input struct {
	Query           string   `json:"query"`
	DatabasePath    string   `json:"database_path,omitempty"`
	PreviousQueries []string `json:"previous_queries,omitempty"`
}

// Carrier is the single mutable record that threads one request through
// the pipeline stages.
//
// Description:
//
//	The carrier owns the request's running history (stage entries with
//	timing), the raw and derived data (query results, analysis), the
//	validation ledger, the error ledger, and the final output. All
//	mutation is additive: no method removes previously recorded data,
//	and the stage history is monotonic - a closed entry is never
//	reopened and at most one entry is in progress at a time.
//
// Thread Safety: NOT safe for unsynchronized concurrent use. A request
// proceeds through stages on one control flow; fan-out workers hand their
// results to the join point, which attaches them sequentially. This
// mirrors the single-owner discipline rather than hiding races behind a
// mutex.
type Carrier struct {
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Input        Input                  `json:"input"`
	Plan         *QueryPlan             `json:"plan,omitempty"`
	StageHistory []StageEntry           `json:"stage_history"`
	QueryResults map[string]QueryResult `json:"query_results"`
	Analysis     Analysis               `json:"analysis"`
	Validation   []ValidationEntry      `json:"validation_ledger"`
	Errors       []ErrorEntry           `json:"errors"`
	FinalOutput  string                 `json:"final_output,omitempty"`

	// resultOrder preserves submission order for deterministic
	// downstream iteration over QueryResults.
	resultOrder []string

	now func() time.Time
}

// NewCarrier creates a carrier for a fresh request.
func NewCarrier(query, dbPath string, previous []string) *Carrier {
	now := time.Now()
	return &Carrier{
		RequestID: uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Input: Input{
			Query:           query,
			DatabasePath:    dbPath,
			PreviousQueries: previous,
		},
		QueryResults: make(map[string]QueryResult),
		now:          time.Now,
	}
}

func (c *Carrier) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Carrier) touch() {
	c.UpdatedAt = c.clock()
}

// StartStage appends an in-progress history entry.
//
// Outputs:
//
//	error - ErrStageInProgress if another entry is still open. This is
//	a precondition violation by the caller, never silently overwritten.
func (c *Carrier) StartStage(name, agentID string) error {
	if n := len(c.StageHistory); n > 0 && c.StageHistory[n-1].Status == StatusInProgress {
		return ErrStageInProgress
	}
	c.StageHistory = append(c.StageHistory, StageEntry{
		Stage:     name,
		AgentID:   agentID,
		StartTime: c.clock(),
		Status:    StatusInProgress,
	})
	c.touch()
	return nil
}

// EndStage closes the most recent entry, computing its duration with
// sub-millisecond precision.
func (c *Carrier) EndStage(success bool) error {
	n := len(c.StageHistory)
	if n == 0 || c.StageHistory[n-1].Status != StatusInProgress {
		return ErrNoOpenStage
	}
	entry := &c.StageHistory[n-1]
	entry.EndTime = c.clock()
	entry.DurationMS = float64(entry.EndTime.Sub(entry.StartTime).Microseconds()) / 1000.0
	if success {
		entry.Status = StatusSuccess
	} else {
		entry.Status = StatusFailed
	}
	c.touch()
	return nil
}

// CurrentStage returns the name of the open stage entry, or "" if none.
func (c *Carrier) CurrentStage() string {
	if n := len(c.StageHistory); n > 0 && c.StageHistory[n-1].Status == StatusInProgress {
		return c.StageHistory[n-1].Stage
	}
	return ""
}

// RecordError appends to the error ledger. It never fails: error
// recording must not be able to fail the request.
func (c *Carrier) RecordError(stage, kind, description string, recovered bool) {
	c.Errors = append(c.Errors, ErrorEntry{
		Stage:       stage,
		Kind:        kind,
		Description: description,
		Recovered:   recovered,
		Timestamp:   c.clock(),
	})
	c.touch()
}

// MergeSubResult attaches one fan-out result under its own query id.
//
// Outputs:
//
//	error - ErrDuplicateQueryID if the id is already present. Fan-out
//	results never clobber each other or earlier stages' results.
func (c *Carrier) MergeSubResult(result QueryResult) error {
	if c.QueryResults == nil {
		c.QueryResults = make(map[string]QueryResult)
	}
	if _, exists := c.QueryResults[result.QueryID]; exists {
		return ErrDuplicateQueryID
	}
	c.QueryResults[result.QueryID] = result
	c.resultOrder = append(c.resultOrder, result.QueryID)
	c.touch()
	return nil
}

// ResultIDs returns query ids in original submission order.
func (c *Carrier) ResultIDs() []string {
	ids := make([]string, len(c.resultOrder))
	copy(ids, c.resultOrder)
	return ids
}

// SetPlan records the query-understanding stage's structured plan.
func (c *Carrier) SetPlan(plan *QueryPlan) {
	c.Plan = plan
	c.touch()
}

// AddKeyFinding appends a key finding with a generated stable id (f1,
// f2, ...).
func (c *Carrier) AddKeyFinding(description, significance, supportingData string) string {
	id := "f" + strconv.Itoa(len(c.Analysis.KeyFindings)+1)
	c.Analysis.KeyFindings = append(c.Analysis.KeyFindings, Finding{
		ID: id, Description: description, Significance: significance, SupportingData: supportingData,
	})
	c.touch()
	return id
}

// AddPattern appends a pattern finding (p1, p2, ...).
func (c *Carrier) AddPattern(description, significance, supportingData string) string {
	id := "p" + strconv.Itoa(len(c.Analysis.Patterns)+1)
	c.Analysis.Patterns = append(c.Analysis.Patterns, Finding{
		ID: id, Description: description, Significance: significance, SupportingData: supportingData,
	})
	c.touch()
	return id
}

// AddComparison appends a comparison finding (c1, c2, ...).
func (c *Carrier) AddComparison(description, significance, supportingData string) string {
	id := "c" + strconv.Itoa(len(c.Analysis.Comparisons)+1)
	c.Analysis.Comparisons = append(c.Analysis.Comparisons, Finding{
		ID: id, Description: description, Significance: significance, SupportingData: supportingData,
	})
	c.touch()
	return id
}

// AddChartRecommendation appends a chart recommendation (v1, v2, ...).
func (c *Carrier) AddChartRecommendation(rec ChartRecommendation) string {
	rec.ID = "v" + strconv.Itoa(len(c.Analysis.RecommendedCharts)+1)
	c.Analysis.RecommendedCharts = append(c.Analysis.RecommendedCharts, rec)
	c.touch()
	return rec.ID
}

// RecordValidation appends a verdict to the validation ledger.
func (c *Carrier) RecordValidation(stage, validator string, passed bool, discrepancies []string) {
	c.Validation = append(c.Validation, ValidationEntry{
		Stage:         stage,
		Validator:     validator,
		Timestamp:     c.clock(),
		Passed:        passed,
		Discrepancies: discrepancies,
	})
	c.touch()
}

// Validated reports whether every ledger entry passed. An empty ledger
// counts as not validated - nothing was checked.
func (c *Carrier) Validated() bool {
	if len(c.Validation) == 0 {
		return false
	}
	for _, entry := range c.Validation {
		if !entry.Passed {
			return false
		}
	}
	return true
}

// FailedValidations returns the ledger entries whose verdict failed.
func (c *Carrier) FailedValidations() []ValidationEntry {
	var failed []ValidationEntry
	for _, entry := range c.Validation {
		if !entry.Passed {
			failed = append(failed, entry)
		}
	}
	return failed
}

// SetFinalOutput records the composed answer.
func (c *Carrier) SetFinalOutput(text string) {
	c.FinalOutput = text
	c.touch()
}

// HasErrors reports whether any error was recorded.
func (c *Carrier) HasErrors() bool { return len(c.Errors) > 0 }
