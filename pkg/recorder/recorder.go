// Package recorder owns the microphone for one recording session at a time.
//
// A session runs from Start until it is finalized, which happens on Stop,
// at MaxDuration, or when the capture device disappears. Every successful
// Start is matched by exactly one FinalizeFunc call carrying the audio
// buffered so far.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/echospeak/pkg/audioio"
)

// Errors returned by Begin.
var (
	ErrSessionActive     = errors.New("recorder: session already active")
	ErrDeviceUnavailable = errors.New("recorder: capture device unavailable")
)

// FinalizeReason says why a session ended.
type FinalizeReason int

const (
	Stopped FinalizeReason = iota
	MaxDuration
	DeviceLost
)

func (r FinalizeReason) String() string {
	switch r {
	case Stopped:
		return "stopped"
	case MaxDuration:
		return "max_duration"
	case DeviceLost:
		return "device_lost"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// FinalizeFunc receives the captured audio of a finished session.
type FinalizeFunc func(clip audioio.Clip, reason FinalizeReason)

// Manager hands out recording sessions, one at a time.
type Manager struct {
	cfg    Config
	open   audioio.Opener
	logger *slog.Logger

	mu   sync.Mutex
	sess *session
	seq  uint64
}

type session struct {
	id          uint64
	src         audioio.Source
	started     time.Time
	onFinalized FinalizeFunc
	cancel      context.CancelFunc
	timer       *time.Timer

	mu   sync.Mutex
	clip audioio.Clip

	level     atomic.Uint64 // math.Float64bits
	ending    atomic.Bool
	collected chan struct{}
	done      chan struct{}
}

// New creates a Manager that acquires devices through open.
func New(open audioio.Opener, opts ...Option) (*Manager, error) {
	if open == nil {
		return nil, errors.New("recorder: opener is required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    cfg,
		open:   open,
		logger: cfg.Logger.With("component", "recorder"),
	}, nil
}

// Start opens the microphone and begins a session. It returns false when a
// session is already open or the device cannot be acquired.
func (m *Manager) Start(ctx context.Context, onFinalized FinalizeFunc, onLevel func(float64)) bool {
	if err := m.Begin(ctx, onFinalized, onLevel); err != nil {
		m.logger.Warn("recording not started", "error", err)
		return false
	}
	return true
}

// Begin is Start with the failure reason: ErrSessionActive, or
// ErrDeviceUnavailable wrapping the device error.
func (m *Manager) Begin(ctx context.Context, onFinalized FinalizeFunc, onLevel func(float64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		return ErrSessionActive
	}

	src, err := m.open(m.cfg.Capture)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	if err := src.Start(sctx); err != nil {
		cancel()
		_ = src.Close()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	m.seq++
	s := &session{
		id:          m.seq,
		src:         src,
		started:     time.Now(),
		onFinalized: onFinalized,
		cancel:      cancel,
		collected:   make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.timer = time.AfterFunc(m.cfg.MaxDuration, func() {
		if m.finish(s, MaxDuration) {
			m.logger.Info("recording hit max duration", "max", m.cfg.MaxDuration)
		}
	})
	m.sess = s

	go m.collect(s)
	if onLevel != nil {
		go func() {
			for lvl := range s.levels(m.cfg.LevelInterval) {
				onLevel(lvl)
			}
		}()
	}

	m.logger.Debug("recording started", "session", s.id, "device", src.Name())
	return nil
}

// Stop finalizes the open session. It returns false, touching nothing,
// when no session is open.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		return false
	}
	return m.finish(s, Stopped)
}

// IsRecording reports whether a session is open and not yet finalizing.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && !m.sess.ending.Load()
}

// Elapsed returns how long the open session has been recording.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return 0
	}
	return time.Since(m.sess.started)
}

// Levels samples the open session's amplitude every LevelInterval. The
// sequence ends when that session ends; with no open session it is empty.
func (m *Manager) Levels() iter.Seq[float64] {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	return s.levels(m.cfg.LevelInterval)
}

// collect buffers chunks until the stream closes. A stream that closes on
// its own is an implicit stop.
func (m *Manager) collect(s *session) {
	for chunk := range s.src.Stream() {
		s.mu.Lock()
		s.clip.Append(chunk)
		s.mu.Unlock()
		s.level.Store(math.Float64bits(audioio.Level(chunk.Samples)))
	}
	close(s.collected)

	reason := Stopped
	if errors.Is(s.src.Err(), audioio.ErrDeviceLost) {
		reason = DeviceLost
	}
	if m.finish(s, reason) && reason == DeviceLost {
		m.logger.Warn("capture device lost, finalizing buffered audio", "session", s.id)
	}
}

// finish finalizes s once. Only the first caller wins and gets true.
func (m *Manager) finish(s *session, reason FinalizeReason) bool {
	if !s.ending.CompareAndSwap(false, true) {
		return false
	}

	m.mu.Lock()
	s.timer.Stop()
	m.mu.Unlock()

	_ = s.src.Stop()
	select {
	case <-s.collected:
	case <-time.After(m.cfg.DrainTimeout):
		m.logger.Warn("capture stream did not drain", "session", s.id)
	}
	_ = s.src.Close()
	s.cancel()

	s.mu.Lock()
	clip := s.clip
	s.mu.Unlock()

	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.mu.Unlock()
	close(s.done)

	m.logger.Debug("recording finalized",
		"session", s.id,
		"reason", reason.String(),
		"duration", clip.Duration(),
		"samples", len(clip.Samples),
	)

	if s.onFinalized != nil {
		s.onFinalized(clip, reason)
	}
	return true
}

func (s *session) levels(interval time.Duration) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		if s == nil {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if s.ending.Load() {
					return
				}
				if !yield(math.Float64frombits(s.level.Load())) {
					return
				}
			}
		}
	}
}
