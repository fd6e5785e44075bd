package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockOption shapes what a MockSource produces.
type MockOption func(*mockScript)

type mockScript struct {
	freq, amp float64 // freq 0 is silence
	loseAfter int     // chunks before the device vanishes, -1 never
	startErr  error
}

// WithSineWave fills chunks with a tone instead of silence.
func WithSineWave(freq, amp float64) MockOption {
	return func(s *mockScript) { s.freq, s.amp = freq, amp }
}

// WithDeviceLoss unplugs the device after n chunks. With n == 0 the stream
// ends before any audio arrives.
func WithDeviceLoss(n int) MockOption {
	return func(s *mockScript) { s.loseAfter = max(n, 0) }
}

// WithStartError makes Start fail, as a denied microphone would.
func WithStartError(err error) MockOption {
	return func(s *mockScript) { s.startErr = err }
}

// MockSource emits one synthetic chunk per BufferDuration.
type MockSource struct {
	cfg    Config
	script mockScript
	logger *slog.Logger

	mu     sync.Mutex
	stream chan Chunk
	halt   chan struct{}
	closed bool
	err    error
}

// NewMockSource creates a silent source unless opts say otherwise.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	script := mockScript{loseAfter: -1}
	for _, opt := range opts {
		opt(&script)
	}
	return &MockSource{
		cfg:    cfg,
		script: script,
		logger: logger.With("component", "audioio.mock"),
	}
}

// MockOpener hands out a fresh MockSource per call.
func MockOpener(logger *slog.Logger, opts ...MockOption) Opener {
	return func(cfg Config) (Source, error) {
		return NewMockSource(cfg, logger, opts...), nil
	}
}

func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return io.ErrClosedPipe
	case m.script.startErr != nil:
		return m.script.startErr
	case m.halt != nil:
		return nil
	}

	m.stream = make(chan Chunk, 16)
	m.halt = make(chan struct{})
	m.err = nil
	go m.run(ctx, m.stream, m.halt)
	return nil
}

func (m *MockSource) run(ctx context.Context, stream chan Chunk, halt chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	var phase int
	for sent := 0; ; sent++ {
		if sent == m.script.loseAfter {
			m.end(halt, ErrDeviceLost)
			return
		}
		select {
		case <-ctx.Done():
			m.end(halt, nil)
			return
		case <-halt:
			return
		case <-ticker.C:
		}

		chunk := m.chunk(&phase)
		m.mu.Lock()
		if m.halt == halt {
			select {
			case stream <- chunk:
			default:
			}
		}
		m.mu.Unlock()
	}
}

func (m *MockSource) chunk(phase *int) Chunk {
	frames := m.cfg.BufferSize()
	ch := m.cfg.Channels
	samples := make([]int16, frames*ch)
	if m.script.freq > 0 {
		w := 2 * math.Pi * m.script.freq / float64(m.cfg.SampleRate)
		for f := range frames {
			v := int16(m.script.amp * math.Sin(w*float64(*phase)) * math.MaxInt16)
			for c := range ch {
				samples[f*ch+c] = v
			}
			*phase = (*phase + 1) % m.cfg.SampleRate
		}
	}
	return Chunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: ch}
}

// end closes the stream belonging to halt, once.
func (m *MockSource) end(halt chan struct{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halt != halt {
		return
	}
	close(m.halt)
	close(m.stream)
	m.halt = nil
	m.err = err
	if err != nil {
		m.logger.Debug("simulated device loss")
	}
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	halt := m.halt
	m.mu.Unlock()
	if halt != nil {
		m.end(halt, nil)
	}
	return nil
}

func (m *MockSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *MockSource) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockSource) Config() Config { return m.cfg }
func (m *MockSource) Name() string   { return "mock" }

// Running reports whether chunks are still being produced.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halt != nil
}

func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSource) Close() error {
	m.Stop()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// MockSink keeps whatever it is asked to play.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	// PlaybackDelay is how long each Flush pretends to play.
	PlaybackDelay time.Duration
	// FlushErr, when set, fails every Flush and drops the queue.
	FlushErr      error

	mu      sync.Mutex
	started bool
	closed  bool
	queued  []int16
	played  [][]int16
	writes  int
	flushes int
}

func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger.With("component", "audioio.mock")}
}

func (m *MockSink) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.started = true
	return nil
}

func (m *MockSink) Stop() error {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

func (m *MockSink) Write(_ context.Context, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return io.ErrClosedPipe
	}
	m.queued = append(m.queued, chunk.Samples...)
	m.writes++
	return nil
}

func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	delay, failure := m.PlaybackDelay, m.FlushErr
	m.mu.Unlock()

	if failure != nil {
		m.Clear()
		return failure
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			m.Clear()
			return ctx.Err()
		case <-t.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queued) > 0 {
		m.played = append(m.played, m.queued)
		m.queued = nil
	}
	m.flushes++
	return nil
}

func (m *MockSink) Clear() error {
	m.mu.Lock()
	m.queued = nil
	m.mu.Unlock()
	return nil
}

// Played returns the audio of each completed Flush, oldest first.
func (m *MockSink) Played() [][]int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int16(nil), m.played...)
}

// Counts returns how many Write and Flush calls succeeded.
func (m *MockSink) Counts() (writes, flushes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.flushes
}

func (m *MockSink) Config() Config { return m.cfg }
func (m *MockSink) Name() string   { return "mock" }

func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed, m.started = true, false
	m.mu.Unlock()
	return nil
}

var (
	_ Source = (*MockSource)(nil)
	_ Sink   = (*MockSink)(nil)
)
