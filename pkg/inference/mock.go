package inference

import (
	"context"
	"slices"
	"sync"
)

// Mock records every request. With a nil ChatFunc it answers
// "Mock response".
type Mock struct {
	ChatFunc   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	requests []ChatRequest
}

func NewMock() *Mock { return WithReply("Mock response") }

// WithReply always answers text.
func WithReply(text string) *Mock {
	return &Mock{ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Message: NewAssistantMessage(text), FinishReason: "stop"}, nil
	}}
}

// Failing answers every call with err.
func Failing(err error) *Mock {
	return &Mock{
		ChatFunc:   func(context.Context, *ChatRequest) (*ChatResponse, error) { return nil, err },
		HealthFunc: func(context.Context) error { return err },
	}
}

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	r := *req
	r.Messages = slices.Clone(req.Messages)
	m.requests = append(m.requests, r)
	m.mu.Unlock()

	if m.ChatFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.ChatFunc(ctx, req)
}

func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

// Count is the number of Chat calls.
func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Last is the most recent request, or nil.
func (m *Mock) Last() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	r := m.requests[len(m.requests)-1]
	return &r
}

var _ Provider = (*Mock)(nil)
