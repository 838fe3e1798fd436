// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/matchlens/services/analyst/llm"
	"github.com/AleutianAI/matchlens/services/analyst/pipeline"
)

const composerSystemPrompt = `You are composing the final answer to a ` +
	`player's question about a SMITE 2 match. Write a concise, direct answer ` +
	`from the findings provided. Use only the names and numbers that appear ` +
	`in the findings; never invent either. Answer in plain prose, leading ` +
	`with the direct answer.`

// composeAttempts bounds corrective regeneration when the guardrail
// trips.
const composeAttempts = 2

// Compose writes the final answer from the validated findings.
//
// Description:
//
//	The composed text must survive the composer guardrail. On a
//	tripwire the stage regenerates once, feeding the discrepancies back
//	into the prompt; if the second attempt still trips, the text is
//	kept but the failed verdict stays on the ledger so the caller can
//	see the answer is suspect. Suppressing the answer entirely would
//	discard the validated findings along with the bad prose.
func (a *Agents) Compose(ctx context.Context, c *pipeline.Carrier) error {
	if len(c.Analysis.KeyFindings) == 0 && len(c.Analysis.Patterns) == 0 && len(c.Analysis.Comparisons) == 0 {
		return fmt.Errorf("%w: no findings to compose from", pipeline.ErrDataUnavailable)
	}

	ref := buildReferenceSet(c)
	findings := findingDescriptions(c)
	prompt := a.compositionPrompt(c)

	var text string
	var verdict []string
	for attempt := 1; attempt <= composeAttempts; attempt++ {
		response, err := a.generator.Generate(ctx, composerSystemPrompt, prompt, llm.GenerationParams{
			Temperature: llm.Float32Ptr(0.3),
		})
		if err != nil {
			return fmt.Errorf("composing answer: %w", err)
		}
		text = strings.TrimSpace(response)

		result := a.composerValidator.Validate(map[string]string{"answer": text}, findings, ref)
		verdict = result.Discrepancies
		if !result.TripwireTriggered {
			c.RecordValidation(StageCompose, a.composerValidator.Name(), true, verdict)
			c.SetFinalOutput(text)
			a.logger.Info("answer composed",
				slog.String("request_id", c.RequestID),
				slog.Int("attempts", attempt),
			)
			return nil
		}

		a.logger.Warn("composed answer failed validation",
			slog.String("request_id", c.RequestID),
			slog.Int("attempt", attempt),
			slog.Any("discrepancies", result.Discrepancies),
		)
		prompt = prompt + "\n\nYour previous answer had these problems; fix them:\n- " +
			strings.Join(result.Discrepancies, "\n- ")
	}

	c.RecordValidation(StageCompose, a.composerValidator.Name(), false, verdict)
	c.SetFinalOutput(text)
	return nil
}

func findingDescriptions(c *pipeline.Carrier) []string {
	var out []string
	for _, f := range c.Analysis.KeyFindings {
		out = append(out, f.Description)
	}
	return out
}

func (a *Agents) compositionPrompt(c *pipeline.Carrier) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(c.Input.Query)
	b.WriteString("\n\nKey findings:\n")
	for _, f := range c.Analysis.KeyFindings {
		b.WriteString("- ")
		b.WriteString(f.Description)
		b.WriteString("\n")
	}
	if len(c.Analysis.Patterns) > 0 {
		b.WriteString("\nPatterns:\n")
		for _, f := range c.Analysis.Patterns {
			b.WriteString("- ")
			b.WriteString(f.Description)
			b.WriteString("\n")
		}
	}
	if len(c.Analysis.Comparisons) > 0 {
		b.WriteString("\nComparisons:\n")
		for _, f := range c.Analysis.Comparisons {
			b.WriteString("- ")
			b.WriteString(f.Description)
			b.WriteString("\n")
		}
	}
	return b.String()
}
