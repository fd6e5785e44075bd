// Package orchestrator drives one voice conversation: it records the user,
// transcribes the audio, obtains a reply, commits both turns and queues the
// reply for speech.
//
// The main line is Idle -> Recording -> Transcribing -> AwaitingReply ->
// Idle. Recording is refused while the speech queue is busy so the
// microphone never hears the assistant. Every asynchronous result carries
// the session epoch it was started under; EndCall bumps the epoch, so late
// results from a finished call are dropped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/teslashibe/echospeak/pkg/audioio"
	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/fallback"
	"github.com/teslashibe/echospeak/pkg/inference"
	"github.com/teslashibe/echospeak/pkg/metrics"
	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/recorder"
	"github.com/teslashibe/echospeak/pkg/speech"
	"github.com/teslashibe/echospeak/pkg/stt"
)

// Errors returned by session operations.
var (
	ErrSessionOpen = errors.New("orchestrator: session already open")
	ErrNoSession   = errors.New("orchestrator: no open session")
)

// Recorder owns the microphone. *recorder.Manager implements it.
type Recorder interface {
	Begin(ctx context.Context, onFinalized recorder.FinalizeFunc, onLevel func(float64)) error
	Stop() bool
	IsRecording() bool
}

// Speaker plays assistant replies in order. *speech.Queue implements it.
type Speaker interface {
	Enqueue(text string) uint64
	Drain() int
	Len() int
	IsSpeaking() bool
}

// Ledger persists conversations. *ledger.Ledger implements it.
type Ledger interface {
	Greeting(userName string) string
	Begin() (string, error)
	Append(id string, turn conversation.Turn) error
	Flush(c conversation.Conversation) error
	RecordLogin(name string) error
}

// Deps are the collaborators of an Orchestrator. Notify, Metrics and
// Latency are optional.
type Deps struct {
	Recorder    Recorder
	Transcriber stt.Provider
	Replier     inference.Provider
	Speech      Speaker
	Ledger      Ledger

	Notify  notify.Sink
	Metrics *metrics.Metrics
	Latency *metrics.Tracker
}

func (d Deps) validate() error {
	switch {
	case d.Recorder == nil:
		return errors.New("orchestrator: recorder is required")
	case d.Transcriber == nil:
		return errors.New("orchestrator: transcriber is required")
	case d.Replier == nil:
		return errors.New("orchestrator: replier is required")
	case d.Speech == nil:
		return errors.New("orchestrator: speech queue is required")
	case d.Ledger == nil:
		return errors.New("orchestrator: ledger is required")
	}
	return nil
}

// Orchestrator is the turn state machine for one user.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	convID    string
	startedAt time.Time
	turns     []conversation.Turn
	fallback  bool
	starting  bool
	userName  string
	ctx       context.Context
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// New creates an Orchestrator in the Closed state.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "orchestrator"),
		userName: cfg.UserName,
		state:    Closed,
	}, nil
}

// StartSession opens a conversation: it builds the greeting from prior
// sessions, allocates a conversation id, commits the greeting as the first
// assistant turn and queues it for speech.
func (o *Orchestrator) StartSession(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state != Closed {
		o.mu.Unlock()
		return "", ErrSessionOpen
	}

	name := o.userName
	if name != "" {
		if err := o.deps.Ledger.RecordLogin(name); err != nil {
			o.logger.Warn("failed to record login", "error", err)
		}
	}

	greeting := o.deps.Ledger.Greeting(name)
	id, err := o.deps.Ledger.Begin()
	if id == "" {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator: begin conversation: %w", err)
	}
	if err != nil {
		o.logger.Warn("conversation not persisted", "id", id, "error", err)
	}

	o.epoch++
	o.state = Idle
	o.convID = id
	o.startedAt = time.Now()
	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))

	turn := conversation.NewTurn(conversation.RoleAssistant, greeting)
	o.turns = []conversation.Turn{turn}
	o.persist(id, turn)
	o.deps.Speech.Enqueue(greeting)
	o.mu.Unlock()

	o.deps.Metrics.SessionStarted()
	o.logger.Info("session started", "conversation", id, "user", name)
	o.emitState(Idle)
	o.emitTurn(turn)
	return greeting, nil
}

// StartRecording moves Idle -> Recording. It returns false without side
// effects when not Idle, while speaking or while another start is opening
// the microphone, and false with one error notification when the
// microphone cannot be acquired. The device is opened without holding the
// state lock.
func (o *Orchestrator) StartRecording() bool {
	o.mu.Lock()
	if o.state != Idle || o.starting || o.deps.Speech.IsSpeaking() {
		o.mu.Unlock()
		return false
	}
	o.starting = true
	epoch := o.epoch
	ctx := o.ctx
	o.mu.Unlock()

	err := o.deps.Recorder.Begin(ctx, o.finalizer(epoch), o.cfg.OnLevel)

	o.mu.Lock()
	o.starting = false
	stale := epoch != o.epoch || o.state != Idle
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn("microphone unavailable", "error", err)
		if !stale {
			o.fail(FailureDeviceUnavailable, notify.LevelError, MsgMicrophone)
		}
		return false
	}
	if stale {
		o.mu.Unlock()
		// The call ended while the device was opening.
		o.deps.Recorder.Stop()
		return false
	}
	o.state = Recording
	o.mu.Unlock()

	notify.Info(o.deps.Notify, MsgListening)
	o.emitState(Recording)
	return true
}

// StopRecording moves Recording -> Transcribing and finalizes the capture.
// It is refused while speaking or when nothing is being recorded.
func (o *Orchestrator) StopRecording() bool {
	o.mu.Lock()
	if o.state != Recording || o.deps.Speech.IsSpeaking() {
		o.mu.Unlock()
		return false
	}
	o.state = Transcribing
	o.mu.Unlock()

	o.emitState(Transcribing)
	// The finalize callback runs inside Stop. If the duration ceiling beat
	// us to it, the callback has already run.
	o.deps.Recorder.Stop()
	return true
}

// EndCall closes the session from any state: it releases the microphone,
// discards queued speech, abandons in-flight work and flushes the
// conversation to the ledger.
func (o *Orchestrator) EndCall() error {
	o.mu.Lock()
	if o.state == Closed {
		o.mu.Unlock()
		return ErrNoSession
	}
	o.epoch++
	o.state = Closed
	cancel := o.cancel
	conv := conversation.Conversation{
		ID:        o.convID,
		StartedAt: o.startedAt,
		Turns:     append([]conversation.Turn(nil), o.turns...),
	}
	o.mu.Unlock()

	cancel()
	o.deps.Recorder.Stop()
	dropped := o.deps.Speech.Drain()

	err := o.deps.Ledger.Flush(conv)
	if err != nil {
		o.logger.Warn("conversation flush failed", "conversation", conv.ID, "error", err)
	}

	o.deps.Metrics.SessionEnded()
	o.deps.Metrics.SetQueueDepth(0)
	o.logger.Info("call ended",
		"conversation", conv.ID,
		"turns", len(conv.Turns),
		"dropped_speech", dropped,
	)
	o.emitState(Closed)
	return err
}

// Shutdown ends an open call and waits for in-flight work to return.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if err := o.EndCall(); err != nil && !errors.Is(err, ErrNoSession) {
		o.logger.Warn("end call during shutdown", "error", err)
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetFallback clears the latched fallback mode so the next turn calls the
// reply service again.
func (o *Orchestrator) ResetFallback() {
	o.mu.Lock()
	was := o.fallback
	o.fallback = false
	o.mu.Unlock()

	if was {
		o.logger.Info("fallback mode cleared")
	}
	o.deps.Metrics.SetFallback(false)
}

// SetUserName changes the name used by the next session and reply.
func (o *Orchestrator) SetUserName(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.userName = strings.TrimSpace(name)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Turns returns a copy of the conversation so far.
func (o *Orchestrator) Turns() []conversation.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]conversation.Turn(nil), o.turns...)
}

// ConversationID returns the open conversation id, or the last one after
// the call ended.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.convID
}

// FallbackMode reports whether replies come from the local generator.
func (o *Orchestrator) FallbackMode() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fallback
}

// IsSpeaking reports whether the speech queue is busy.
func (o *Orchestrator) IsSpeaking() bool {
	return o.deps.Speech.IsSpeaking()
}

// UserName returns the configured user name.
func (o *Orchestrator) UserName() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userName
}

// ObserveSpeech records the outcome of a speech task. Wire it to the
// queue's result handler.
func (o *Orchestrator) ObserveSpeech(r speech.Result) {
	m := o.deps.Metrics
	switch {
	case r.Cancelled:
		m.RecordSpeech("cancelled")
	case r.Err == nil:
		m.RecordSpeech("played")
		if o.deps.Latency != nil {
			o.deps.Latency.MarkFirstAudioAt(r.PlaybackStart)
			o.deps.Latency.MarkDone()
		}
	case r.Stage == speech.StageSynthesis:
		m.RecordSpeech("synthesis_failed")
		m.RecordFailure(string(FailureSynthesis))
	default:
		m.RecordSpeech("playback_failed")
		m.RecordFailure(string(FailurePlayback))
	}
	m.SetQueueDepth(o.deps.Speech.Len())
}

// finalizer returns the recorder callback for a session started under
// epoch.
func (o *Orchestrator) finalizer(epoch uint64) recorder.FinalizeFunc {
	return func(clip audioio.Clip, reason recorder.FinalizeReason) {
		o.deps.Metrics.RecordRecording(reason.String(), clip.Duration())

		o.mu.Lock()
		if epoch != o.epoch || (o.state != Recording && o.state != Transcribing) {
			o.mu.Unlock()
			o.logger.Debug("stale recording discarded", "reason", reason.String())
			return
		}
		moved := o.state == Recording
		o.state = Transcribing
		ctx := o.ctx
		o.wg.Add(1)
		o.mu.Unlock()

		if o.deps.Latency != nil {
			o.deps.Latency.MarkCaptureEnd()
		}
		if reason != recorder.Stopped {
			o.logger.Info("recording finalized automatically",
				"reason", reason.String(),
				"duration", clip.Duration(),
			)
		}
		if moved {
			o.emitState(Transcribing)
		}
		go o.runTurn(ctx, epoch, clip)
	}
}

// runTurn carries a finalized capture through transcription and reply.
func (o *Orchestrator) runTurn(ctx context.Context, epoch uint64, clip audioio.Clip) {
	defer o.wg.Done()

	text, ok := o.transcribe(ctx, epoch, clip)
	if !ok {
		return
	}

	o.mu.Lock()
	if epoch != o.epoch || o.state != Transcribing {
		o.mu.Unlock()
		return
	}
	o.state = AwaitingReply
	userTurn := conversation.NewTurn(conversation.RoleUser, text)
	history := append(append([]conversation.Turn(nil), o.turns...), userTurn)
	latched := o.fallback
	name := o.userName
	o.mu.Unlock()

	o.emitState(AwaitingReply)
	if o.cfg.OnTranscript != nil {
		o.cfg.OnTranscript(text)
	}

	reply, outcome, ok := o.reply(ctx, epoch, name, history, latched)
	if !ok {
		return
	}
	o.commit(epoch, userTurn, reply, outcome)
}

// transcribe returns the usable transcript, or false after aborting the
// turn.
func (o *Orchestrator) transcribe(ctx context.Context, epoch uint64, clip audioio.Clip) (string, bool) {
	if clip.Empty() {
		o.abort(epoch, FailureEmptyCapture, notify.LevelWarning, MsgNoSpeech)
		return "", false
	}

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TranscriptionTimeout)
	tr, err := o.deps.Transcriber.Transcribe(tctx, clip)
	cancel()

	if ctx.Err() != nil {
		return "", false
	}
	if err != nil {
		kind := stt.Classify(err)
		o.logger.Warn("transcription failed", "kind", kind.String(), "error", err)
		switch kind {
		case stt.KindTooShort, stt.KindNoSpeech:
			o.abort(epoch, FailureEmptyCapture, notify.LevelWarning, MsgNoSpeech)
		case stt.KindQuotaExceeded:
			o.abort(epoch, FailureTranscription, notify.LevelError, MsgTranscriptionQuota)
		default:
			o.abort(epoch, FailureTranscription, notify.LevelError, MsgTranscriptionFailed)
		}
		return "", false
	}

	text := strings.TrimSpace(tr.Text)
	if utf8.RuneCountInString(text) < max(o.cfg.MinTranscriptChars, 1) {
		o.abort(epoch, FailureEmptyCapture, notify.LevelWarning, MsgNoSpeech)
		return "", false
	}

	if o.deps.Latency != nil {
		o.deps.Latency.MarkTranscript()
	}
	o.logger.Debug("transcribed", "chars", len(text), "audio", clip.Duration())
	return text, true
}

// reply obtains the assistant text. It only returns false when the turn
// went stale while waiting.
func (o *Orchestrator) reply(ctx context.Context, epoch uint64, name string, history []conversation.Turn, latched bool) (string, string, bool) {
	last := history[len(history)-1].Content

	if latched {
		o.deps.Metrics.RecordFallbackReply()
		return fallback.Generate(last), "fallback", true
	}

	if n := len(history); n > o.cfg.MaxHistory {
		history = history[n-o.cfg.MaxHistory:]
	}
	req := &inference.ChatRequest{
		Messages: inference.FromTurns(inference.SystemPrompt(name), history),
		Model:    o.cfg.Model,
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.ReplyTimeout)
	resp, err := o.deps.Replier.Chat(rctx, req)
	cancel()

	if ctx.Err() != nil || !o.current(epoch) {
		return "", "", false
	}
	if err == nil {
		return resp.Message.Content, "reply", true
	}

	if inference.IsQuotaExceeded(err) {
		o.mu.Lock()
		o.fallback = true
		o.mu.Unlock()

		o.logger.Warn("reply quota exceeded, switching to fallback", "error", err)
		o.deps.Metrics.SetFallback(true)
		o.deps.Metrics.RecordFallbackReply()
		o.fail(FailureReplyQuota, notify.LevelWarning, MsgReplyQuota)
		return fallback.Generate(last), "fallback", true
	}

	o.logger.Error("reply failed", "error", err)
	o.fail(FailureReplyUnknown, notify.LevelError, MsgReplyFailed)
	return fallback.Apology, "apology", true
}

// commit appends the user and assistant turns, mirrors them to the ledger
// and queues the reply, then returns to Idle.
func (o *Orchestrator) commit(epoch uint64, userTurn conversation.Turn, reply, outcome string) {
	o.mu.Lock()
	if epoch != o.epoch || o.state != AwaitingReply {
		o.mu.Unlock()
		return
	}
	assistantTurn := conversation.NewTurn(conversation.RoleAssistant, reply)
	o.turns = append(o.turns, userTurn, assistantTurn)
	o.persist(o.convID, userTurn)
	o.persist(o.convID, assistantTurn)
	if o.deps.Latency != nil {
		o.deps.Latency.MarkReply()
	}
	// Enqueue under the lock so a new recording cannot start before
	// the reply is marked as speaking.
	o.deps.Speech.Enqueue(reply)
	o.state = Idle
	o.mu.Unlock()

	o.deps.Metrics.RecordTurn(outcome)
	o.deps.Metrics.SetQueueDepth(o.deps.Speech.Len())

	o.emitTurn(userTurn)
	o.emitTurn(assistantTurn)
	o.emitState(Idle)
}

// abort returns a turn to Idle with one notification.
func (o *Orchestrator) abort(epoch uint64, kind FailureKind, level notify.Level, msg string) {
	o.mu.Lock()
	if epoch != o.epoch || o.state == Closed || o.state == Idle {
		o.mu.Unlock()
		return
	}
	o.state = Idle
	o.mu.Unlock()

	o.fail(kind, level, msg)
	o.emitState(Idle)
}

// fail counts a failure and sends its single notification.
func (o *Orchestrator) fail(kind FailureKind, level notify.Level, msg string) {
	o.deps.Metrics.RecordFailure(string(kind))
	switch level {
	case notify.LevelError:
		notify.Error(o.deps.Notify, msg)
	case notify.LevelWarning:
		notify.Warning(o.deps.Notify, msg)
	default:
		notify.Info(o.deps.Notify, msg)
	}
}

// persist mirrors a committed turn; must hold mu.
func (o *Orchestrator) persist(id string, turn conversation.Turn) {
	if err := o.deps.Ledger.Append(id, turn); err != nil {
		o.logger.Warn("turn not persisted", "conversation", id, "role", turn.Role, "error", err)
	}
}

func (o *Orchestrator) current(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return epoch == o.epoch
}

func (o *Orchestrator) emitState(s State) {
	o.logger.Debug("state", "state", s.String())
	if o.cfg.OnState != nil {
		o.cfg.OnState(s)
	}
}

func (o *Orchestrator) emitTurn(t conversation.Turn) {
	if o.cfg.OnTurn != nil {
		o.cfg.OnTurn(t)
	}
}
