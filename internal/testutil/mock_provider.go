// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/stream"
)

// MockTurn is one scripted response.
type MockTurn struct {
	Chunks    []string
	Citations []stream.Citation
	Err       error // sent after Chunks
	// Block, when set, holds the stream open after Chunks until closed
	// or the request context ends.
	Block <-chan struct{}
}

// MockProvider replays scripted turns and records requests.
type MockProvider struct {
	name string
	caps llm.Capabilities

	mu       sync.Mutex
	turns    []MockTurn
	Requests []llm.Request
}

// NewMockProvider returns an empty mock. Unscripted calls answer "ok".
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// WithCapabilities sets the reported capabilities.
func (m *MockProvider) WithCapabilities(c llm.Capabilities) *MockProvider {
	m.caps = c
	return m
}

// AddTextResponse queues a turn that streams the given chunks.
func (m *MockProvider) AddTextResponse(chunks ...string) *MockProvider {
	return m.AddTurn(MockTurn{Chunks: chunks})
}

// AddTurn queues a scripted turn.
func (m *MockProvider) AddTurn(t MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// LastRequest returns the most recent request.
func (m *MockProvider) LastRequest() (llm.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Capabilities() llm.Capabilities { return m.caps }

func (m *MockProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	turn := MockTurn{Chunks: []string{"ok"}}
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()

	events := []llm.Event{}
	for _, c := range turn.Chunks {
		events = append(events, llm.Event{Type: llm.EventTextDelta, Text: c})
	}
	if len(turn.Citations) > 0 {
		events = append(events, llm.Event{Type: llm.EventCitations, Citations: turn.Citations})
	}
	return &mockStream{ctx: ctx, events: events, err: turn.Err, block: turn.Block}, nil
}

type mockStream struct {
	ctx    context.Context
	events []llm.Event
	err    error
	block  <-chan struct{}
	done   bool
}

func (s *mockStream) Recv() (llm.Event, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Event{}, err
	}
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	if s.block != nil {
		select {
		case <-s.block:
			s.block = nil
		case <-s.ctx.Done():
			return llm.Event{}, s.ctx.Err()
		}
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return llm.Event{Type: llm.EventError, Err: err}, err
	}
	if !s.done {
		s.done = true
		return llm.Event{Type: llm.EventDone}, nil
	}
	return llm.Event{}, io.EOF
}

func (s *mockStream) Close() error { return nil }

// ErrMock is a convenience error for failing turns.
var ErrMock = errors.New("mock failure")
