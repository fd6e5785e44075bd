package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/audioio"
)

type finalized struct {
	clip   audioio.Clip
	reason FinalizeReason
}

// collector gathers finalize calls.
type collector struct {
	mu    sync.Mutex
	calls []finalized
	ch    chan finalized
}

func newCollector() *collector {
	return &collector{ch: make(chan finalized, 8)}
}

func (c *collector) fn(clip audioio.Clip, reason FinalizeReason) {
	c.mu.Lock()
	c.calls = append(c.calls, finalized{clip, reason})
	c.mu.Unlock()
	c.ch <- finalized{clip, reason}
}

func (c *collector) wait(t *testing.T) finalized {
	t.Helper()
	select {
	case f := <-c.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalize")
		return finalized{}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func testCapture() audioio.Config {
	cfg := audioio.CaptureConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 10 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, open audioio.Opener, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithCapture(testCapture()), WithLogger(log.Discard())}, opts...)
	m, err := New(open, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// countingOpener wraps an Opener and counts device acquisitions.
func countingOpener(open audioio.Opener, n *atomic.Int32) audioio.Opener {
	return func(cfg audioio.Config) (audioio.Source, error) {
		n.Add(1)
		return open(cfg)
	}
}

func TestManager_SingleSession(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard(), audioio.WithSineWave(440, 0.5)))
	c := newCollector()

	if !m.Start(context.Background(), c.fn, nil) {
		t.Fatal("first Start should succeed")
	}
	if m.Start(context.Background(), c.fn, nil) {
		t.Fatal("second Start should be rejected while a session is open")
	}
	if err := m.Begin(context.Background(), c.fn, nil); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Begin = %v, want ErrSessionActive", err)
	}
	if !m.IsRecording() {
		t.Error("IsRecording should be true")
	}

	time.Sleep(50 * time.Millisecond)

	if !m.Stop() {
		t.Fatal("Stop should succeed")
	}
	f := c.wait(t)
	if f.reason != Stopped {
		t.Errorf("reason = %v, want stopped", f.reason)
	}
	if f.clip.Empty() {
		t.Error("expected buffered audio")
	}
	if f.clip.SampleRate != audioio.CaptureSampleRate {
		t.Errorf("clip rate = %d", f.clip.SampleRate)
	}
	if m.IsRecording() {
		t.Error("IsRecording should be false after Stop")
	}

	// A finished session frees the device for the next one.
	if !m.Start(context.Background(), c.fn, nil) {
		t.Fatal("Start after finalize should succeed")
	}
	m.Stop()
	c.wait(t)

	time.Sleep(20 * time.Millisecond)
	if got := c.count(); got != 2 {
		t.Errorf("finalize called %d times, want 2", got)
	}
}

func TestManager_StopIdle(t *testing.T) {
	var opened atomic.Int32
	m := newTestManager(t, countingOpener(audioio.MockOpener(log.Discard()), &opened))

	if m.Stop() {
		t.Error("Stop while idle should return false")
	}
	if opened.Load() != 0 {
		t.Error("Stop while idle must not touch the device")
	}

	c := newCollector()
	m.Start(context.Background(), c.fn, nil)
	m.Stop()
	c.wait(t)

	if m.Stop() {
		t.Error("second Stop should return false")
	}
	if opened.Load() != 1 {
		t.Errorf("device opened %d times, want 1", opened.Load())
	}
	if c.count() != 1 {
		t.Errorf("finalize called %d times, want 1", c.count())
	}
}

func TestManager_MaxDuration(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard()), WithMaxDuration(60*time.Millisecond))
	c := newCollector()

	if !m.Start(context.Background(), c.fn, nil) {
		t.Fatal("Start failed")
	}

	f := c.wait(t)
	if f.reason != MaxDuration {
		t.Errorf("reason = %v, want max_duration", f.reason)
	}
	if m.IsRecording() {
		t.Error("session should be closed after the ceiling")
	}
	if m.Stop() {
		t.Error("Stop after auto-finalize should return false")
	}

	time.Sleep(20 * time.Millisecond)
	if c.count() != 1 {
		t.Errorf("finalize called %d times, want 1", c.count())
	}
}

func TestManager_DeviceLost(t *testing.T) {
	tests := []struct {
		name      string
		loseAfter int
		samples   int
	}{
		{"mid capture", 2, 2 * 160},
		{"before any audio", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, audioio.MockOpener(log.Discard(), audioio.WithDeviceLoss(tt.loseAfter)))
			c := newCollector()

			if !m.Start(context.Background(), c.fn, nil) {
				t.Fatal("Start failed")
			}

			f := c.wait(t)
			if f.reason != DeviceLost {
				t.Errorf("reason = %v, want device_lost", f.reason)
			}
			if len(f.clip.Samples) != tt.samples {
				t.Errorf("clip has %d samples, want %d", len(f.clip.Samples), tt.samples)
			}
			if m.IsRecording() {
				t.Error("session should be closed after device loss")
			}
		})
	}
}

func TestManager_OpenFailure(t *testing.T) {
	denied := errors.New("permission denied")

	t.Run("open", func(t *testing.T) {
		m := newTestManager(t, func(audioio.Config) (audioio.Source, error) { return nil, denied })
		err := m.Begin(context.Background(), nil, nil)
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("Begin = %v, want ErrDeviceUnavailable", err)
		}
		if m.Start(context.Background(), nil, nil) {
			t.Error("Start should fail")
		}
		if m.IsRecording() {
			t.Error("no session should exist")
		}
	})

	t.Run("start", func(t *testing.T) {
		var src *audioio.MockSource
		m := newTestManager(t, func(cfg audioio.Config) (audioio.Source, error) {
			src = audioio.NewMockSource(cfg, log.Discard(), audioio.WithStartError(denied))
			return src, nil
		})
		if m.Start(context.Background(), nil, nil) {
			t.Fatal("Start should fail")
		}
		if !src.Closed() {
			t.Error("device should be released after a failed start")
		}
	})
}

func TestManager_CaptureProfile(t *testing.T) {
	var got audioio.Config
	m, err := New(func(cfg audioio.Config) (audioio.Source, error) {
		got = cfg
		return audioio.NewMockSource(cfg, log.Discard()), nil
	}, WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	m.Start(context.Background(), c.fn, nil)
	m.Stop()
	c.wait(t)

	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("capture format = %d Hz / %d ch", got.SampleRate, got.Channels)
	}
	if !got.EchoCancellation || !got.NoiseSuppression {
		t.Error("echo cancellation and noise suppression should be requested")
	}
}

func TestManager_LevelCallback(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard(), audioio.WithSineWave(440, 0.5)),
		WithLevelInterval(5*time.Millisecond))
	c := newCollector()

	var mu sync.Mutex
	var levels []float64
	onLevel := func(l float64) {
		mu.Lock()
		levels = append(levels, l)
		mu.Unlock()
	}

	m.Start(context.Background(), c.fn, onLevel)
	time.Sleep(80 * time.Millisecond)
	m.Stop()
	c.wait(t)

	// Allow an in-flight sample to land, then the count must freeze.
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	n := len(levels)
	var peak float64
	for _, l := range levels {
		if l < 0 || l > 1 {
			t.Errorf("level %f out of range", l)
		}
		peak = max(peak, l)
	}
	mu.Unlock()

	if n == 0 {
		t.Fatal("expected level samples")
	}
	if peak < 0.2 {
		t.Errorf("peak level = %f, expected sine amplitude", peak)
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(levels) != n {
		t.Errorf("level sampling continued after finalize: %d -> %d", n, len(levels))
	}
}

func TestManager_LevelsEndWithSession(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard()), WithLevelInterval(5*time.Millisecond))

	n := 0
	for range m.Levels() {
		n++
	}
	if n != 0 {
		t.Error("Levels with no session should be empty")
	}

	c := newCollector()
	m.Start(context.Background(), c.fn, nil)

	done := make(chan int)
	go func() {
		n := 0
		for range m.Levels() {
			n++
		}
		done <- n
	}()

	time.Sleep(30 * time.Millisecond)
	m.Stop()

	select {
	case got := <-done:
		if got == 0 {
			t.Error("expected samples before the session ended")
		}
	case <-time.After(time.Second):
		t.Fatal("Levels did not end with the session")
	}
	c.wait(t)
}

func TestManager_ContextCancel(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard()))
	c := newCollector()

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx, c.fn, nil)
	cancel()

	f := c.wait(t)
	if f.reason != Stopped {
		t.Errorf("reason = %v, want stopped", f.reason)
	}
}

func TestManager_RestartFromCallback(t *testing.T) {
	m := newTestManager(t, audioio.MockOpener(log.Discard()))
	restarted := make(chan bool, 1)

	m.Start(context.Background(), func(audioio.Clip, FinalizeReason) {
		restarted <- m.Start(context.Background(), nil, nil)
	}, nil)
	m.Stop()

	if !<-restarted {
		t.Error("Start from the finalize callback should succeed")
	}
	m.Stop()
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil opener")
	}
	if _, err := New(audioio.MockOpener(nil), WithMaxDuration(0)); err == nil {
		t.Error("expected error for zero max duration")
	}
}

func TestFinalizeReason_String(t *testing.T) {
	if MaxDuration.String() != "max_duration" || FinalizeReason(9).String() != "reason(9)" {
		t.Error("unexpected reason strings")
	}
}
