package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/echospeak/pkg/audioio"
	"github.com/teslashibe/echospeak/pkg/tts"
)

// Playback errors.
var (
	ErrNoAudio           = errors.New("speech: no audio to play")
	ErrUnsupportedFormat = errors.New("speech: unsupported audio format")
)

// SinkPlayer plays PCM results on an audio sink, converting them to the
// sink's rate and channel layout.
type SinkPlayer struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewSinkPlayer wraps sink. The sink is started on first use.
func NewSinkPlayer(sink audioio.Sink, logger *slog.Logger) *SinkPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SinkPlayer{
		sink:   sink,
		logger: logger.With("component", "speech.player"),
	}
}

// Play writes audio to the sink and waits until it has been heard. When ctx
// ends first the sink is silenced.
func (p *SinkPlayer) Play(ctx context.Context, audio *tts.AudioResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return ErrNoAudio
	}
	if !audio.Format.IsPCM() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, audio.Format.Encoding)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		if err := p.sink.Start(ctx); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
		p.started = true
	}

	cfg := p.sink.Config()
	chunk := audioio.Chunk{
		Samples:    audioio.Convert(audioio.BytesToSamples(audio.Audio), audio.Format.SampleRate, cfg),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}

	if err := p.sink.Write(ctx, chunk); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := p.sink.Flush(ctx); err != nil {
		if ctx.Err() != nil {
			_ = p.sink.Clear()
		}
		return fmt.Errorf("flush: %w", err)
	}

	p.logger.Debug("played", "duration", chunk.Duration(), "sink", p.sink.Name())
	return nil
}

// Stop silences the sink immediately.
func (p *SinkPlayer) Stop() error {
	return p.sink.Clear()
}

var _ Player = (*SinkPlayer)(nil)
