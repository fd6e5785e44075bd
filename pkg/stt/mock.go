package stt

import (
	"context"
	"sync"

	"github.com/teslashibe/echospeak/pkg/audioio"
)

// Mock hears Text in every non-empty clip unless TranscribeFunc says
// otherwise.
type Mock struct {
	TranscribeFunc func(ctx context.Context, clip audioio.Clip) (*Transcript, error)

	mu    sync.Mutex
	text  string
	heard []audioio.Clip
}

func NewMock(text string) *Mock {
	return &Mock{text: text}
}

func (m *Mock) Transcribe(ctx context.Context, clip audioio.Clip) (*Transcript, error) {
	m.mu.Lock()
	m.heard = append(m.heard, clip)
	fn, text := m.TranscribeFunc, m.text
	m.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, clip)
	case clip.Empty():
		return nil, ErrTooShort
	}
	return &Transcript{Text: text, Language: "en", AudioDuration: clip.Duration()}, nil
}

// SetText changes what later calls hear.
func (m *Mock) SetText(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
}

// Calls returns every clip passed to Transcribe, oldest first.
func (m *Mock) Calls() []audioio.Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audioio.Clip(nil), m.heard...)
}

func (m *Mock) Close() error { return nil }

var _ Provider = (*Mock)(nil)
