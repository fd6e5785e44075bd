// Package speech serializes synthesis and playback of assistant replies.
//
// A Queue plays texts strictly in the order they were enqueued. One task is
// in flight at a time: it is synthesized, played to completion, and only then
// removed so the next can start. A failing task is dropped with a
// notification and the queue moves on.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/tts"
)

// User-visible failure messages.
const (
	MsgSynthesisFailed = "Error generating speech. Please try again."
	MsgPlaybackFailed  = "Error playing audio. Please try again."
)

// Stage identifies where a task failed.
type Stage string

const (
	StageSynthesis Stage = "synthesis"
	StagePlayback  Stage = "playback"
)

// Result describes how one task ended.
type Result struct {
	Seq  uint64
	Text string

	// Err is nil when the task was heard in full.
	Err   error
	Stage Stage

	// Cancelled is set when Drain or Close discarded the task mid-flight.
	Cancelled bool

	SynthesisLatency time.Duration
	AudioDuration    time.Duration

	// PlaybackStart is when the audio was handed to the player.
	PlaybackStart time.Time
}

// Player plays synthesized audio. Play returns once playback has finished
// or failed.
type Player interface {
	Play(ctx context.Context, audio *tts.AudioResult) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, audio *tts.AudioResult) error

// Play calls f.
func (f PlayerFunc) Play(ctx context.Context, audio *tts.AudioResult) error {
	return f(ctx, audio)
}

type task struct {
	seq  uint64
	text string
}

// Queue is a FIFO of texts to speak.
type Queue struct {
	synth  tts.Provider
	player Player
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	tasks     []task
	seq       uint64
	running   bool
	closed    bool
	cancelCur context.CancelFunc
	idle      chan struct{}

	// evMu keeps OnSpeaking calls in order across worker generations.
	evMu sync.Mutex
}

// New creates a Queue that synthesizes with synth and plays through player.
func New(synth tts.Provider, player Player, opts ...Option) (*Queue, error) {
	if synth == nil || player == nil {
		return nil, errors.New("speech: synthesizer and player are required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Queue{
		synth:  synth,
		player: player,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "speech.queue"),
		ctx:    ctx,
		cancel: cancel,
		idle:   idle,
	}, nil
}

// Enqueue appends text and starts the worker if it is idle. It returns the
// task sequence number, or 0 when the text is blank or the queue is closed.
func (q *Queue) Enqueue(text string) uint64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}

	q.seq++
	q.tasks = append(q.tasks, task{seq: q.seq, text: text})

	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		q.wg.Add(1)
		go q.run()
	}

	q.logger.Debug("enqueued", "seq", q.seq, "pending", len(q.tasks))
	return q.seq
}

// Drain discards every pending task without playing it and cancels the one
// in flight. It returns how many tasks were discarded.
func (q *Queue) Drain() int {
	q.mu.Lock()
	n := len(q.tasks)
	q.tasks = nil
	cancel := q.cancelCur
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if n > 0 {
		q.logger.Info("queue drained", "discarded", n)
	}
	return n
}

// Len returns the number of tasks not yet finished, including the one in
// flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// IsSpeaking reports whether the worker is synthesizing or playing.
func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, stops the worker and rejects further tasks.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) run() {
	defer q.wg.Done()

	q.evMu.Lock()
	q.emitSpeaking(true)
	q.evMu.Unlock()

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 || q.closed {
			q.running = false
			q.cancelCur = nil
			close(q.idle)
			q.evMu.Lock()
			q.mu.Unlock()
			q.emitSpeaking(false)
			q.evMu.Unlock()
			return
		}
		t := q.tasks[0]
		ctx, cancel := context.WithCancel(q.ctx)
		q.cancelCur = cancel
		q.mu.Unlock()

		res := q.process(ctx, t)
		cancel()

		q.mu.Lock()
		q.cancelCur = nil
		if len(q.tasks) > 0 && q.tasks[0].seq == t.seq {
			q.tasks = q.tasks[1:]
		}
		q.mu.Unlock()

		if q.cfg.OnResult != nil {
			q.cfg.OnResult(res)
		}
	}
}

func (q *Queue) process(ctx context.Context, t task) Result {
	res := Result{Seq: t.seq, Text: t.text}

	start := time.Now()
	sctx, scancel := context.WithTimeout(ctx, q.cfg.SynthesisTimeout)
	audio, err := q.synth.Synthesize(sctx, t.text)
	scancel()
	res.SynthesisLatency = time.Since(start)

	if ctx.Err() != nil {
		res.Cancelled, res.Err = true, ctx.Err()
		return res
	}
	if err == nil && (audio == nil || len(audio.Audio) == 0) {
		err = tts.ErrEmptyAudio
	}
	if err != nil {
		res.Stage, res.Err = StageSynthesis, err
		q.logger.Error("synthesis failed", "seq", t.seq, "error", err)
		notify.Error(q.cfg.Notify, MsgSynthesisFailed)
		return res
	}
	res.AudioDuration = audio.Duration
	res.PlaybackStart = time.Now()

	if err := q.player.Play(ctx, audio); err != nil {
		if ctx.Err() != nil {
			res.Cancelled, res.Err = true, ctx.Err()
			return res
		}
		res.Stage, res.Err = StagePlayback, err
		q.logger.Warn("playback failed", "seq", t.seq, "error", err)
		notify.Warning(q.cfg.Notify, MsgPlaybackFailed)
		return res
	}

	q.logger.Debug("spoken",
		"seq", t.seq,
		"chars", len(t.text),
		"synthesis_ms", res.SynthesisLatency.Milliseconds(),
		"audio", res.AudioDuration,
	)
	return res
}

func (q *Queue) emitSpeaking(v bool) {
	if q.cfg.OnSpeaking != nil {
		q.cfg.OnSpeaking(v)
	}
}
