// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyst is the service façade over the match analysis pipeline:
// it owns the database store, the schema cache, the model client, and the
// orchestrated stages, and answers one natural-language question per
// Process call.
package analyst

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/matchlens/services/analyst/config"
	"github.com/AleutianAI/matchlens/services/analyst/db"
	"github.com/AleutianAI/matchlens/services/analyst/guardrails"
	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
	"github.com/AleutianAI/matchlens/services/analyst/stages"
)

// Response is the caller-facing outcome of one question.
type Response struct {
	// Success reports whether the pipeline produced a usable answer. A
	// failed pipeline is marked unsuccessful; it never fabricates text.
	Success bool `json:"success"`

	RequestID string `json:"request_id"`
	Answer    string `json:"answer,omitempty"`

	// Error describes why an unsuccessful request failed.
	Error string `json:"error,omitempty"`

	// Validated reports whether every guardrail verdict passed.
	Validated         bool                       `json:"validated"`
	FailedValidations []pipeline.ValidationEntry `json:"failed_validations,omitempty"`

	Charts    []pipeline.ChartRecommendation `json:"charts,omitempty"`
	Followups []string                       `json:"followups,omitempty"`

	// Carrier is the full request record, for debug dumps.
	Carrier *pipeline.Carrier `json:"-"`
}

// Service answers questions about one match database.
//
// Thread Safety: Safe for concurrent use. Each Process call runs on its
// own carrier; only the session history is shared, under a mutex.
type Service struct {
	cfg    *config.Config
	store  *db.Store
	cache  *db.SchemaCache
	orch   *pipeline.Orchestrator
	logger *slog.Logger

	mu       sync.Mutex
	previous []string
}

// New builds a service over the configured database.
//
// Description:
//
//	Opens the store read-only, resolves the schema through the cache
//	(introspecting on a miss), and wires the four stages against the
//	given generator. A nil generator is built from the model config:
//	"openai" gets a rate-limited client, "mock" a bare mock for dry
//	runs.
func New(cfg *config.Config, generator llm.Generator, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("analyst: config must not be nil")
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("analyst: no database path configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	cache, err := db.NewSchemaCache(cfg.Database.SchemaCacheDir, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	schema, err := cache.SchemaFor(context.Background(), store)
	if err != nil {
		cache.Close()
		store.Close()
		return nil, fmt.Errorf("introspecting %s: %w", cfg.Database.Path, err)
	}

	if generator == nil {
		generator, err = buildGenerator(cfg.Model, logger)
		if err != nil {
			cache.Close()
			store.Close()
			return nil, err
		}
	}

	base := guardrails.DefaultConfig()
	base.Tolerance = cfg.Guardrails.Tolerance
	base.StrictMode = cfg.Guardrails.StrictMode
	base.RoundingForgiveness = cfg.Guardrails.RoundingForgiveness

	agents := stages.NewAgents(store, schema, generator, stages.Options{
		Guardrails:           base,
		MaxConcurrentQueries: cfg.Pipeline.MaxConcurrentQueries,
		Logger:               logger,
	})
	orch, err := pipeline.NewOrchestrator(agents.Pipeline(), cfg.Pipeline.Timeout(), logger)
	if err != nil {
		cache.Close()
		store.Close()
		return nil, err
	}

	return &Service{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		orch:   orch,
		logger: logger,
	}, nil
}

func buildGenerator(cfg config.ModelConfig, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Type {
	case "mock":
		return llm.NewMockGenerator("{}"), nil
	case "openai":
		client, err := llm.NewOpenAIClient(llm.OpenAIOptions{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if cfg.RequestsPerSecond > 0 {
			return llm.NewRateLimitedGenerator(client, cfg.RequestsPerSecond, cfg.Burst), nil
		}
		return client, nil
	default:
		return nil, fmt.Errorf("analyst: unknown model type %q", cfg.Type)
	}
}

// Process answers one question against the match database.
//
// Description:
//
//	Runs the full pipeline on a fresh carrier. A mandatory-stage failure
//	returns an unsuccessful response carrying the reason; the error
//	return is reserved for misuse (nil context, closed service). In
//	strict mode a response whose guardrail ledger has failures is also
//	marked unsuccessful, even though an answer was composed.
func (s *Service) Process(ctx context.Context, query string) (*Response, error) {
	if ctx == nil {
		return nil, pipeline.ErrNilContext
	}

	c := pipeline.NewCarrier(query, s.store.Path(), s.sessionHistory())

	runErr := s.orch.Run(ctx, c)
	resp := &Response{
		RequestID:         c.RequestID,
		Carrier:           c,
		Validated:         c.Validated(),
		FailedValidations: c.FailedValidations(),
	}
	if c.Plan != nil {
		resp.Followups = c.Plan.AnticipatedFollowups
	}
	resp.Charts = c.Analysis.RecommendedCharts

	if runErr != nil {
		resp.Error = failureMessage(runErr)
		s.logger.Warn("request failed",
			slog.String("request_id", c.RequestID),
			slog.String("error", runErr.Error()),
		)
		return resp, nil
	}

	if c.FinalOutput == "" {
		resp.Error = "the pipeline produced no answer"
		return resp, nil
	}
	if s.cfg.Guardrails.StrictMode && !resp.Validated {
		resp.Answer = c.FinalOutput
		resp.Error = "the answer failed validation in strict mode"
		return resp, nil
	}

	resp.Success = true
	resp.Answer = c.FinalOutput
	s.remember(query)
	return resp, nil
}

// failureMessage maps a pipeline error to user-facing text.
func failureMessage(err error) string {
	if errors.Is(err, pipeline.ErrDataUnavailable) {
		return "the match data does not contain what this question needs"
	}
	return err.Error()
}

// sessionHistory returns the questions answered so far, for follow-up
// resolution in the planner.
func (s *Service) sessionHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.previous))
	copy(out, s.previous)
	return out
}

func (s *Service) remember(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = append(s.previous, query)
}

// Schema returns the introspected schema of the service's database.
func (s *Service) Schema(ctx context.Context) (*db.Schema, error) {
	return s.cache.SchemaFor(ctx, s.store)
}

// RefreshSchema drops the cached schema and re-introspects.
func (s *Service) RefreshSchema(ctx context.Context) (*db.Schema, error) {
	s.cache.Invalidate(s.store.Path())
	return s.cache.SchemaFor(ctx, s.store)
}

// Close releases the store and the schema cache.
func (s *Service) Close() error {
	cerr := s.cache.Close()
	serr := s.store.Close()
	if serr != nil {
		return serr
	}
	return cerr
}
