// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("matchlens.pipeline")
	meter  = otel.Meter("matchlens.pipeline")
)

// StageFunc is the unit of work an orchestrated stage performs. It reads
// from and writes to the carrier; the orchestrator owns the stage-history
// bookkeeping around it.
type StageFunc func(ctx context.Context, c *Carrier) error

// Stage describes one step of the analysis pipeline.
type Stage struct {
	// Name is the stage identifier recorded in the carrier's history.
	Name string

	// AgentID identifies the component running the stage.
	AgentID string

	// Run performs the stage's work.
	Run StageFunc

	// Mandatory stages abort the pipeline when they fail. Non-mandatory
	// stages degrade: the failure is recorded and later stages still run.
	Mandatory bool

	// MaxRetries is the number of re-attempts after the first failure.
	// Retries apply to unexpected errors only; a stage that reports
	// ErrDataUnavailable has reached a terminal business outcome and is
	// never retried.
	MaxRetries int
}

// Orchestrator runs stages sequentially against a shared carrier with
// per-stage retries, panic containment, and a global deadline.
//
// Description:
//
//	The orchestrator owns the carrier's stage history: it opens an entry
//	before each stage runs and closes it with the outcome afterwards, so
//	stage functions never touch StartStage/EndStage themselves. Failures
//	never lose work already on the carrier. When the global deadline
//	expires, the run stops between stages and the caller gets the
//	carrier with everything completed so far.
//
// Thread Safety:
//
//	An Orchestrator is safe for concurrent use; each Run works on its
//	own carrier.
type Orchestrator struct {
	stages        []Stage
	timeout       time.Duration
	retryInterval time.Duration
	logger        *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce     sync.Once
	stageLatency    metric.Float64Histogram
	stageSuccesses  metric.Int64Counter
	stageFailures   metric.Int64Counter
	pipelineLatency metric.Float64Histogram
}

// DefaultPipelineTimeout bounds a full run when the caller does not set
// one.
const DefaultPipelineTimeout = 120 * time.Second

// defaultRetryInterval is the pause between stage re-attempts.
const defaultRetryInterval = 500 * time.Millisecond

// NewOrchestrator creates an orchestrator over the given stages.
//
// Inputs:
//
//	stages - Stages in execution order. Must not be empty.
//	timeout - Global deadline for a run; <= 0 uses DefaultPipelineTimeout.
//	logger - Logger for run logs. If nil, uses slog.Default().
func NewOrchestrator(stages []Stage, timeout time.Duration, logger *slog.Logger) (*Orchestrator, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline: no stages configured")
	}
	for _, s := range stages {
		if s.Name == "" || s.Run == nil {
			return nil, fmt.Errorf("pipeline: stage %q is missing a name or a run function", s.Name)
		}
	}
	if timeout <= 0 {
		timeout = DefaultPipelineTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stages:        stages,
		timeout:       timeout,
		retryInterval: defaultRetryInterval,
		logger:        logger,
	}, nil
}

// initMetrics lazily initializes metrics. Metric creation failures are
// logged and execution continues without them.
func (o *Orchestrator) initMetrics() {
	o.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		o.stageLatency, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		o.stageSuccesses, err = meter.Int64Counter("pipeline_stage_success_total",
			metric.WithDescription("Number of successful stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_successes: "+err.Error())
		}

		o.stageFailures, err = meter.Int64Counter("pipeline_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		o.pipelineLatency, err = meter.Float64Histogram("pipeline_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			o.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes every stage against the carrier.
//
// Description:
//
//	Stages run in order under a global deadline. A mandatory stage that
//	exhausts its retries ends the run with ErrMandatoryStageFailed; a
//	non-mandatory failure is recorded on the carrier and the run
//	continues. On deadline expiry the carrier keeps all completed work,
//	a "timeout" error is recorded, and the run returns without error so
//	callers can still use the partial results.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	c - The carrier to run against. Must not be nil.
//
// Outputs:
//
//	error - Non-nil only when a mandatory stage failed or the carrier
//	was unusable. Timeouts and degraded stages are reported through the
//	carrier's error ledger instead.
func (o *Orchestrator) Run(ctx context.Context, c *Carrier) error {
	if ctx == nil {
		return ErrNilContext
	}
	if c == nil {
		return fmt.Errorf("pipeline: carrier must not be nil")
	}

	o.initMetrics()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.request_id", c.RequestID),
			attribute.Int("pipeline.stage_count", len(o.stages)),
		),
	)
	defer span.End()

	start := time.Now()
	o.logger.Info("pipeline started",
		slog.String("request_id", c.RequestID),
		slog.Int("stages", len(o.stages)),
	)

	for _, stage := range o.stages {
		select {
		case <-ctx.Done():
			// Recovered: the run still returns its partial results.
			c.RecordError(stage.Name, "timeout", fmt.Sprintf(
				"pipeline deadline expired before stage %s", stage.Name), true)
			span.AddEvent("pipeline_timeout", trace.WithAttributes(
				attribute.String("pipeline.stage", stage.Name),
			))
			span.SetStatus(codes.Error, "deadline expired")
			o.logger.Warn("pipeline deadline expired, returning partial results",
				slog.String("request_id", c.RequestID),
				slog.String("next_stage", stage.Name),
			)
			return nil
		default:
		}

		if err := o.runStage(ctx, stage, c); err != nil {
			if stage.Mandatory {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				o.logger.Error("pipeline aborted on mandatory stage",
					slog.String("request_id", c.RequestID),
					slog.String("stage", stage.Name),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%w: %s: %v", ErrMandatoryStageFailed, stage.Name, err)
			}
			o.logger.Warn("stage failed, continuing degraded",
				slog.String("request_id", c.RequestID),
				slog.String("stage", stage.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	duration := time.Since(start)
	if o.pipelineLatency != nil {
		o.pipelineLatency.Record(ctx, duration.Seconds())
	}
	span.SetStatus(codes.Ok, "")
	o.logger.Info("pipeline completed",
		slog.String("request_id", c.RequestID),
		slog.Duration("duration", duration),
		slog.Int("stages_recorded", len(c.StageHistory)),
	)
	return nil
}

// runStage executes one stage with history bookkeeping, retries, and
// panic containment.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, c *Carrier) error {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+stage.Name,
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage.Name),
			attribute.String("pipeline.agent_id", stage.AgentID),
			attribute.Bool("pipeline.mandatory", stage.Mandatory),
		),
	)
	defer span.End()

	if err := c.StartStage(stage.Name, stage.AgentID); err != nil {
		// Orchestrator misuse: a prior entry was left open. Surface it,
		// never paper over it.
		return err
	}

	start := time.Now()
	err := o.attemptWithRetry(ctx, stage, c)
	duration := time.Since(start)

	if o.stageLatency != nil {
		o.stageLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("stage", stage.Name)),
		)
	}

	success := err == nil
	if success {
		span.SetStatus(codes.Ok, "")
		if o.stageSuccesses != nil {
			o.stageSuccesses.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", stage.Name)),
			)
		}
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if o.stageFailures != nil {
			o.stageFailures.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", stage.Name)),
			)
		}
	}

	if endErr := c.EndStage(success); endErr != nil && err == nil {
		err = endErr
	}

	o.logger.Debug("stage finished",
		slog.String("request_id", c.RequestID),
		slog.String("stage", stage.Name),
		slog.Bool("success", success),
		slog.Duration("duration", duration),
	)
	return err
}

// attemptWithRetry runs the stage function, retrying unexpected errors
// up to the stage's retry budget.
//
// Description:
//
//	ErrDataUnavailable is a terminal business outcome, not a transient
//	fault, so it is wrapped as permanent and recorded without retrying.
//	Panics inside a stage are contained here: they convert to a recorded
//	"stage_exception" error so one bad stage cannot take the process
//	down or strand an open history entry.
func (o *Orchestrator) attemptWithRetry(ctx context.Context, stage Stage, c *Carrier) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := o.attempt(ctx, stage, c)
		if err == nil {
			return nil
		}
		// An error is recovered when the run continues past it: the stage
		// degrades, or a retry is still coming.
		recovered := !stage.Mandatory
		if errors.Is(err, ErrDataUnavailable) {
			c.RecordError(stage.Name, "data_unavailable", err.Error(), recovered)
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			c.RecordError(stage.Name, "timeout", err.Error(), recovered)
			return backoff.Permanent(err)
		}
		c.RecordError(stage.Name, "stage_exception", err.Error(), recovered || attempt <= stage.MaxRetries)
		o.logger.Warn("stage attempt failed",
			slog.String("request_id", c.RequestID),
			slog.String("stage", stage.Name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(o.retryInterval),
			uint64(stage.MaxRetries),
		),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

// attempt runs the stage function once with panic containment.
func (o *Orchestrator) attempt(ctx context.Context, stage Stage, c *Carrier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()
	return stage.Run(ctx, c)
}
