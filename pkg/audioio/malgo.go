//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

const nativeAvailable = true

// malgoSource captures the default microphone through miniaudio.
type malgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	ma      *malgo.AllocatedContext
	dev     *malgo.Device
	stream  chan Chunk
	live    bool
	closed  bool
	err     error
	dropped int
}

func newNativeSource(cfg Config, logger *slog.Logger) (Source, error) {
	logger = logger.With("component", "audioio.malgo")
	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		// miniaudio exposes no capture DSP; the OS may still apply its own.
		logger.Debug("capture processing requested but unavailable, recording raw input")
	}
	return &malgoSource{cfg: cfg, logger: logger}, nil
}

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.live {
		return nil
	}

	ma, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(s.cfg.Channels)
	dc.SampleRate = uint32(s.cfg.SampleRate)
	dc.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())

	stream := make(chan Chunk, 32)
	dev, err := malgo.InitDevice(ma.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { s.push(stream, in) },
		Stop: func() { s.lost(stream) },
	})
	if err != nil {
		freeContext(ma)
		return fmt.Errorf("%w: capture device: %v", ErrBackendUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(ma)
		return fmt.Errorf("%w: start capture: %v", ErrBackendUnavailable, err)
	}

	s.ma, s.dev, s.stream, s.live, s.err = ma, dev, stream, true, nil
	context.AfterFunc(ctx, func() { s.Stop() })

	s.logger.Debug("capture started", "rate", s.cfg.SampleRate, "channels", s.cfg.Channels)
	return nil
}

// push runs on the audio thread and never blocks it.
func (s *malgoSource) push(stream chan Chunk, in []byte) {
	chunk := Chunk{Samples: BytesToSamples(in), SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live || s.stream != stream {
		return
	}
	select {
	case stream <- chunk:
	default:
		s.dropped++
	}
}

// lost fires whenever miniaudio stops the device. If Stop did not get
// there first, the device went away.
func (s *malgoSource) lost(stream chan Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live || s.stream != stream {
		return
	}
	s.live = false
	s.err = ErrDeviceLost
	close(stream)
	s.logger.Warn("capture device lost", "dropped_chunks", s.dropped)
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return nil
	}
	s.live = false
	close(s.stream)
	dev := s.dev
	s.mu.Unlock()

	// The stop callback takes s.mu.
	if dev != nil {
		_ = dev.Stop()
	}
	s.mu.Lock()
	s.release()
	s.mu.Unlock()
	return nil
}

// release frees the device and context. Caller holds s.mu.
func (s *malgoSource) release() {
	if s.dev != nil {
		s.dev.Uninit()
		s.dev = nil
	}
	if s.ma != nil {
		freeContext(s.ma)
		s.ma = nil
	}
}

func freeContext(ma *malgo.AllocatedContext) {
	_ = ma.Uninit()
	ma.Free()
}

func (s *malgoSource) Stream() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *malgoSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *malgoSource) Config() Config { return s.cfg }
func (s *malgoSource) Name() string   { return "malgo" }

func (s *malgoSource) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.release()
	return nil
}
