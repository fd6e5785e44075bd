package tts

import (
	"context"
	"sync"
	"time"
)

// Mock is a scriptable Provider. With nil funcs it answers Synthesize with
// Silence and reports healthy.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)
	HealthFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded invocation.
type MockCall struct {
	Method string
	Text   string
}

func NewMock() *Mock { return &Mock{} }

// Failing answers every call with err.
func Failing(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// Delayed holds each Synthesize for d, honoring cancellation.
func (m *Mock) Delayed(d time.Duration) *Mock {
	next := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next != nil {
			return next(ctx, text)
		}
		return Silence(text), nil
	}
	return m
}

func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return Silence(text), nil
}

func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Close() error {
	m.record("Close", "")
	return nil
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text})
	m.mu.Unlock()
}

func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Spoken returns the texts passed to Synthesize, in call order.
func (m *Mock) Spoken() []string {
	var texts []string
	for _, c := range m.Calls() {
		if c.Method == "Synthesize" {
			texts = append(texts, c.Text)
		}
	}
	return texts
}

func (m *Mock) Count(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Silence is 24 kHz PCM16 of one millisecond per character.
func Silence(text string) *AudioResult {
	const bytesPerMs = 48
	return &AudioResult{
		Audio:     make([]byte, len(text)*bytesPerMs),
		Format:    pcmFormat(EncodingPCM24),
		CharCount: len(text),
		LatencyMs: 1,
		Duration:  time.Duration(len(text)) * time.Millisecond,
	}
}

var _ Provider = (*Mock)(nil)
