package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/resonance/internal/generation"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, req generation.Request) (string, error)

	// Responses maps a request operation to its canned response
	Responses map[string]string

	// Errs maps a request operation to a canned error
	Errs map[string]error

	// Err is returned for operations without a canned response
	Err error

	// Call tracking for verification
	GenerateCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times Generate was called
		Count int

		// Requests contains all requests passed to Generate
		Requests []generation.Request
	}
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements the generation.Generator interface
func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Requests = append(m.GenerateCalls.Requests, req)
	m.GenerateCalls.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}

	if err, ok := m.Errs[req.Operation]; ok {
		return "", err
	}
	if resp, ok := m.Responses[req.Operation]; ok {
		return resp, nil
	}
	if m.Err != nil {
		return "", m.Err
	}
	return "", generation.ErrGenerationFailed
}

// CallCount returns the number of Generate calls for operation. An empty
// operation counts every call.
func (m *MockGenerator) CallCount(operation string) int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()

	if operation == "" {
		return m.GenerateCalls.Count
	}
	n := 0
	for _, req := range m.GenerateCalls.Requests {
		if req.Operation == operation {
			n++
		}
	}
	return n
}

// NewMockGeneratorWithError creates a MockGenerator that fails every request
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}

// MockGeneratorWithContentBlocked creates a MockGenerator that simulates content being blocked
func MockGeneratorWithContentBlocked() *MockGenerator {
	return &MockGenerator{Err: generation.ErrContentBlocked}
}

// MockCompleter implements generation.Completer for testing
type MockCompleter struct {
	// CompleteFn allows test cases to mock the Complete behavior
	CompleteFn func(ctx context.Context, prompt string, maxOutputTokens int) (string, error)

	// Default response values
	Text string
	Err  error

	mu      sync.Mutex
	prompts []string
}

var _ generation.Completer = (*MockCompleter)(nil)

// Complete implements the generation.Completer interface
func (m *MockCompleter) Complete(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, prompt, maxOutputTokens)
	}
	return m.Text, m.Err
}

// Name implements the generation.Completer interface
func (m *MockCompleter) Name() string { return "mock" }

// Prompts returns the prompts received so far.
func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
