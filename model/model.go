package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoJSON is returned by GenerateJSON when the completion contains no JSON value.
var ErrNoJSON = errors.New("no JSON object in model output")

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
}

// Model is the minimal text-completion interface consumed by agents. Output
// is untrusted: callers must validate it and keep a typed fallback.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Info returns information about the model implementation.
	Info() Info
}

// GenerateJSON asks m for a completion and decodes the first JSON object or
// array found in it into out. Prose around the JSON is ignored.
func GenerateJSON(ctx context.Context, m Model, prompt string, out any) error {
	text, err := m.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	raw, ok := ExtractJSON(text)
	if !ok {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Code fences and surrounding prose are skipped.
func ExtractJSON(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		if end, ok := matchBracket(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	return "", false
}

func matchBracket(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are matched by prompt substring first, then served from the
// queue, then from the default.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	matches  []mockMatch
	queue    []mockReply
	fallback string
	err      error
	calls    []string
}

type mockMatch struct {
	contains string
	response string
}

type mockReply struct {
	response string
	err      error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:     Info{Name: name, Provider: "mock"},
		fallback: "{}",
	}
}

// AddResponse registers a canned completion for prompts containing substr.
func (m *MockModel) AddResponse(substr, response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, mockMatch{contains: substr, response: response})
	return m
}

// Enqueue appends a one-shot completion (or error) to the reply queue.
func (m *MockModel) Enqueue(response string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{response: response, err: err})
	return m
}

// SetDefault sets the completion returned when nothing else matches.
func (m *MockModel) SetDefault(response string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// FailWith makes every subsequent call fail with err; nil restores normal behavior.
func (m *MockModel) FailWith(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns the prompts received so far.
func (m *MockModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return "", m.err
	}
	for _, mm := range m.matches {
		if strings.Contains(prompt, mm.contains) {
			return mm.response, nil
		}
	}
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		return r.response, r.err
	}
	return m.fallback, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
