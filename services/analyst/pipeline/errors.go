// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "errors"

var (
	// ErrStageInProgress is returned by StartStage when another stage
	// entry is still open. This is orchestrator misuse, never silently
	// absorbed.
	ErrStageInProgress = errors.New("pipeline: a stage is already in progress")

	// ErrNoOpenStage is returned by EndStage when no entry is open.
	ErrNoOpenStage = errors.New("pipeline: no stage is in progress")

	// ErrDuplicateQueryID is returned by MergeSubResult when a result
	// already exists under the given id.
	ErrDuplicateQueryID = errors.New("pipeline: query id already recorded")

	// ErrDataUnavailable marks a legitimate business outcome: an
	// upstream stage produced no usable rows. Stages wrap this sentinel
	// to signal "terminal for this stage, do not retry".
	ErrDataUnavailable = errors.New("pipeline: no usable data available")

	// ErrMandatoryStageFailed aborts a run when a stage marked
	// mandatory fails after all retries.
	ErrMandatoryStageFailed = errors.New("pipeline: mandatory stage failed")

	// ErrAllSubQueriesFailed is returned by a fan-out only when every
	// dispatched item failed.
	ErrAllSubQueriesFailed = errors.New("pipeline: all sub-queries failed")

	// ErrNilContext is returned when a nil context is passed to Run.
	ErrNilContext = errors.New("pipeline: context must not be nil")
)
