package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/generation"
)

// MockGenerator is a generation.Generator for tests. Without GenerateFunc it
// returns a deterministic path under backgrounds/generated.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string, cat catalog.Category) (string, error)

	mu            sync.Mutex
	GenerateCalls []GenerateCall
}

type GenerateCall struct {
	Prompt   string
	Category catalog.Category
}

var _ generation.Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a new mock generator
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, cat catalog.Category) (string, error) {
	m.mu.Lock()
	m.GenerateCalls = append(m.GenerateCalls, GenerateCall{Prompt: prompt, Category: cat})
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, cat)
	}
	return fmt.Sprintf("%s/%s.png", generatedDir, Slug(prompt)), nil
}

// Calls returns a copy of the recorded calls.
func (m *MockGenerator) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateCall(nil), m.GenerateCalls...)
}
