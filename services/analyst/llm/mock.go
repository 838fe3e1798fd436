// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockGenerator is a deterministic Generator for tests: responses are
// selected by substring match against the prompt, in registration order.
//
// Thread Safety: Safe for concurrent use.
type MockGenerator struct {
	mu        sync.Mutex
	rules     []mockRule
	fallback  string
	err       error
	callCount int
	prompts   []string
}

type mockRule struct {
	contains string
	response string
}

// NewMockGenerator creates a mock whose unmatched prompts return
// fallback.
func NewMockGenerator(fallback string) *MockGenerator {
	return &MockGenerator{fallback: fallback}
}

// Respond registers a response for prompts containing the given
// substring.
func (m *MockGenerator) Respond(contains, response string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{contains: contains, response: response})
	return m
}

// Fail makes every subsequent call return err.
func (m *MockGenerator) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// CallCount returns how many times Generate has been invoked.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Prompts returns the prompts seen so far, in call order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.prompts = append(m.prompts, prompt)

	if m.err != nil {
		return "", m.err
	}
	for _, rule := range m.rules {
		if strings.Contains(prompt, rule.contains) {
			return rule.response, nil
		}
	}
	if m.fallback == "" {
		return "", fmt.Errorf("llm: mock has no response for prompt")
	}
	return m.fallback, nil
}
