//go:build cgo

package audioio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto permits one context per process, so the first sink picks the format
// and later sinks convert to it.
type otoOutput struct {
	ctx *oto.Context
	cfg Config
}

var (
	outputMu sync.Mutex
	output   *otoOutput
)

func sharedOutput(cfg Config) (*otoOutput, error) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if output != nil {
		return output, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	<-ready
	output = &otoOutput{ctx: ctx, cfg: cfg}
	return output, nil
}

// otoSink plays PCM16 through the system output.
type otoSink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	out    *otoOutput
	closed bool
	queue  bytes.Buffer
	player *oto.Player
}

func newNativeSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return &otoSink{cfg: cfg, logger: logger.With("component", "audioio.oto")}, nil
}

func (s *otoSink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	if s.out != nil {
		return nil
	}
	out, err := sharedOutput(s.cfg)
	if err != nil {
		return err
	}
	if out.cfg.SampleRate != s.cfg.SampleRate || out.cfg.Channels != s.cfg.Channels {
		s.logger.Warn("output already open in another format, converting",
			"want_rate", s.cfg.SampleRate, "have_rate", out.cfg.SampleRate)
		s.cfg.SampleRate, s.cfg.Channels = out.cfg.SampleRate, out.cfg.Channels
	}
	s.out = out
	return nil
}

func (s *otoSink) Stop() error {
	s.Clear()
	s.mu.Lock()
	s.out = nil
	s.mu.Unlock()
	return nil
}

// Write queues chunk after converting it to the device format.
func (s *otoSink) Write(_ context.Context, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return io.ErrClosedPipe
	}

	samples := Resample(chunk.Samples, chunk.SampleRate, s.cfg.SampleRate)
	if chunk.Channels == 1 && s.cfg.Channels == 2 {
		samples = MonoToStereo(samples)
	}
	s.queue.Write(SamplesToBytes(samples))
	return nil
}

// Flush plays the queue and waits for the player to drain.
func (s *otoSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.out == nil {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		return nil
	}
	p := s.out.ctx.NewPlayer(bytes.NewReader(bytes.Clone(s.queue.Bytes())))
	s.queue.Reset()
	s.player = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.player == p {
			s.player = nil
		}
		s.mu.Unlock()
		_ = p.Close()
	}()

	p.Play()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-poll.C:
		}
	}
	if err := p.Err(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Clear drops the queue and pauses whatever is playing.
func (s *otoSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Reset()
	if s.player != nil {
		s.player.Pause()
	}
	return nil
}

func (s *otoSink) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *otoSink) Name() string { return "oto" }

// Close stops playback. The shared context lives as long as the process.
func (s *otoSink) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
