// Package app wires the echospeak components into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teslashibe/echospeak/internal/config"
	"github.com/teslashibe/echospeak/pkg/audioio"
	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/inference"
	"github.com/teslashibe/echospeak/pkg/ledger"
	"github.com/teslashibe/echospeak/pkg/metrics"
	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/orchestrator"
	"github.com/teslashibe/echospeak/pkg/recorder"
	"github.com/teslashibe/echospeak/pkg/speech"
	"github.com/teslashibe/echospeak/pkg/stt"
	"github.com/teslashibe/echospeak/pkg/tts"
	"github.com/teslashibe/echospeak/pkg/web"
)

// MockTranscript is what the mock transcriber hears.
const MockTranscript = "What's the weather like today?"

// App owns every component and their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger // handed to components
	log    *slog.Logger
	opener audioio.Opener

	metrics *metrics.Metrics
	latency *metrics.Tracker
	events  *hub.Hub
	notes   *notify.Recorder

	store  ledger.Store
	ledger *ledger.Ledger

	transcriber stt.Provider
	replier     inference.Provider
	synth       tts.Provider
	sink        audioio.Sink
	player      *speech.SinkPlayer
	queue       *speech.Queue
	orch        *orchestrator.Orchestrator
	server      *web.Server

	onEvent func(hub.Event)

	closeOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithOpener replaces the microphone opener.
func WithOpener(open audioio.Opener) Option {
	return func(a *App) { a.opener = open }
}

// WithEventHandler receives every event published to the hub, in the
// caller's goroutine.
func WithEventHandler(fn func(hub.Event)) Option {
	return func(a *App) { a.onEvent = fn }
}

// New validates cfg and creates an App. Call Init before Run.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.logger.With("component", "app")
	return a, nil
}

// Init builds the components.
func (a *App) Init(ctx context.Context) error {
	a.metrics = metrics.New("")
	a.latency = metrics.NewTracker(a.metrics)
	a.events = hub.New("events", a.logger)
	a.notes = notify.NewRecorder(100)

	if err := a.initLedger(); err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}
	if err := a.initProviders(ctx); err != nil {
		return fmt.Errorf("providers init: %w", err)
	}
	if err := a.initAudio(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	if err := a.initTurns(); err != nil {
		return fmt.Errorf("orchestrator init: %w", err)
	}
	if a.cfg.Server.Addr != "" {
		if err := a.initServer(); err != nil {
			return fmt.Errorf("server init: %w", err)
		}
	}

	a.log.Info("initialized",
		"stt", a.cfg.STT.Provider,
		"reply", a.cfg.Reply.Provider,
		"speech", a.cfg.Speech.Provider,
		"storage", a.cfg.Storage.Backend,
		"audio", a.cfg.Audio.Backend,
	)
	return nil
}

// Run serves events and the control API until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.events.Run(ctx)

	if a.server == nil {
		<-ctx.Done()
		return nil
	}
	return a.server.Run(ctx)
}

// Shutdown ends the call and releases every resource. It is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.orch != nil {
			errs = append(errs, a.orch.Shutdown(ctx))
		}
		if a.queue != nil {
			errs = append(errs, a.queue.Close())
		}
		if a.player != nil {
			errs = append(errs, a.player.Stop())
		}
		if a.sink != nil {
			errs = append(errs, a.sink.Close())
		}
		for _, c := range []interface{ Close() error }{a.transcriber, a.replier, a.synth, a.store} {
			if c != nil {
				errs = append(errs, c.Close())
			}
		}
		a.log.Info("shut down")
	})
	return errors.Join(errs...)
}

// Orchestrator returns the turn state machine.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Ledger returns the conversation ledger.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Notifications returns the recent user notifications.
func (a *App) Notifications() *notify.Recorder { return a.notes }

// Events returns the event hub.
func (a *App) Events() *hub.Hub { return a.events }

// Latency returns the per-turn latency tracker.
func (a *App) Latency() *metrics.Tracker { return a.latency }

// Speech returns the speech queue.
func (a *App) Speech() *speech.Queue { return a.queue }

func (a *App) initLedger() error {
	store, err := OpenStore(a.cfg.Storage)
	if err != nil {
		return err
	}
	a.store = store
	a.ledger = ledger.New(a.store, ledger.WithLogger(a.logger))
	return nil
}

// OpenStore opens the ledger backend named by cfg.
func OpenStore(cfg config.Storage) (ledger.Store, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return ledger.NewMemoryStore(), nil
	case config.StorageFile:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return ledger.NewFileStore(cfg.Path), nil
	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return ledger.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) initProviders(ctx context.Context) error {
	switch a.cfg.STT.Provider {
	case config.STTMock:
		a.transcriber = stt.NewMock(MockTranscript)
	default:
		opts := []stt.Option{
			stt.WithAPIKey(a.cfg.OpenAIKey),
			stt.WithModel(a.cfg.STT.Model),
			stt.WithLanguage(a.cfg.STT.Language),
			stt.WithTimeout(a.cfg.STT.Timeout.D()),
			stt.WithLogger(a.logger),
		}
		if a.cfg.STT.BaseURL != "" {
			opts = append(opts, stt.WithBaseURL(a.cfg.STT.BaseURL))
		}
		w, err := stt.NewWhisper(opts...)
		if err != nil {
			return err
		}
		a.transcriber = w
	}

	replier, err := a.newReplier(ctx)
	if err != nil {
		return err
	}
	a.replier = replier

	synth, err := a.newSynth()
	if err != nil {
		return err
	}
	a.synth = synth
	return nil
}

func (a *App) newReplier(ctx context.Context) (inference.Provider, error) {
	r := a.cfg.Reply
	openai := func() (inference.Provider, error) {
		opts := []inference.Option{
			inference.WithAPIKey(a.cfg.OpenAIKey),
			inference.WithModel(r.Model),
			inference.WithMaxTokens(r.MaxTokens),
			inference.WithTimeout(r.Timeout.D()),
			inference.WithLogger(a.logger),
		}
		if r.BaseURL != "" {
			opts = append(opts, inference.WithBaseURL(r.BaseURL))
		}
		return inference.NewClient(opts...)
	}
	gemini := func() (inference.Provider, error) {
		return inference.NewGemini(ctx,
			inference.WithAPIKey(a.cfg.GeminiKey),
			inference.WithModel(r.GeminiModel),
			inference.WithMaxTokens(r.MaxTokens),
			inference.WithTimeout(r.Timeout.D()),
			inference.WithLogger(a.logger),
		)
	}

	switch r.Provider {
	case config.ReplyMock:
		return inference.NewMock(), nil
	case config.ReplyOpenAI:
		return openai()
	case config.ReplyGemini:
		return gemini()
	}

	var backends []inference.Backend
	if a.cfg.OpenAIKey != "" {
		p, err := openai()
		if err != nil {
			return nil, err
		}
		backends = append(backends, inference.Backend{Name: config.ReplyOpenAI, Provider: p})
	}
	if a.cfg.GeminiKey != "" {
		p, err := gemini()
		if err != nil {
			return nil, err
		}
		backends = append(backends, inference.Backend{Name: config.ReplyGemini, Provider: p})
	}
	return inference.NewChain(a.logger, backends...)
}

func (a *App) newSynth() (tts.Provider, error) {
	s := a.cfg.Speech
	eleven := []tts.Option{
		tts.WithAPIKey(a.cfg.ElevenLabsKey),
		tts.WithVoice(s.VoiceID),
		tts.WithModel(s.ModelID),
		tts.WithVoiceSettings(s.VoiceSettings),
		tts.WithOutputFormat(tts.EncodingPCM24),
		tts.WithTimeout(s.Timeout.D()),
		tts.WithLogger(a.logger),
	}
	openai := []tts.Option{
		tts.WithAPIKey(a.cfg.OpenAIKey),
		tts.WithVoice(s.OpenAIVoice),
		tts.WithTimeout(s.Timeout.D()),
		tts.WithLogger(a.logger),
	}

	switch s.Provider {
	case config.SpeechMock:
		return tts.NewMock(), nil
	case config.SpeechElevenLabs:
		return tts.NewElevenLabs(eleven...)
	case config.SpeechElevenLabsWS:
		return tts.NewElevenLabsWS(eleven...)
	case config.SpeechOpenAI:
		return tts.NewOpenAI(openai...)
	}

	var backends []tts.Backend
	if a.cfg.ElevenLabsKey != "" {
		p, err := tts.NewElevenLabs(eleven...)
		if err != nil {
			return nil, err
		}
		backends = append(backends, tts.Backend{Name: config.SpeechElevenLabs, Provider: p})
	}
	if a.cfg.OpenAIKey != "" {
		p, err := tts.NewOpenAI(openai...)
		if err != nil {
			return nil, err
		}
		backends = append(backends, tts.Backend{Name: config.SpeechOpenAI, Provider: p})
	}
	chain, err := tts.NewChain(a.logger, backends...)
	if err != nil {
		return nil, err
	}
	chain.Cooldown = s.QuotaCooldown.D()
	return chain, nil
}

func (a *App) initAudio() error {
	if a.opener == nil {
		a.opener = audioio.NewOpener(a.cfg.Audio.Backend, a.logger)
	}

	out := audioio.DefaultConfig()
	out.Backend = a.cfg.Audio.Backend
	sink, err := audioio.NewSink(out, a.logger)
	if err != nil {
		return err
	}
	a.sink = sink
	a.player = speech.NewSinkPlayer(sink, a.logger)
	return nil
}

func (a *App) initTurns() error {
	capture := audioio.CaptureConfig()
	capture.Backend = a.cfg.Audio.Backend
	rec, err := recorder.New(a.opener,
		recorder.WithCapture(capture),
		recorder.WithMaxDuration(a.cfg.Audio.MaxRecording.D()),
		recorder.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	sink := notify.Multi{
		a.notes,
		notify.NewLogSink(a.logger),
		notify.SinkFunc(func(n notify.Notification) { a.publish(hub.EventNotification, n) }),
	}

	a.queue, err = speech.New(a.synth, a.player,
		speech.WithNotifier(sink),
		speech.WithSynthesisTimeout(a.cfg.Speech.Timeout.D()),
		speech.WithSpeakingHandler(func(v bool) { a.publish(hub.EventSpeaking, v) }),
		speech.WithResultHandler(func(r speech.Result) { a.orch.ObserveSpeech(r) }),
		speech.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	a.latency.OnUpdate(func(l metrics.Latency) {
		if !l.DoneTime.IsZero() {
			a.publish(hub.EventLatency, l.Format())
		}
	})

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Recorder:    rec,
		Transcriber: a.transcriber,
		Replier:     a.replier,
		Speech:      a.queue,
		Ledger:      a.ledger,
		Notify:      sink,
		Metrics:     a.metrics,
		Latency:     a.latency,
	},
		orchestrator.WithUserName(a.cfg.UserName),
		orchestrator.WithMinTranscriptChars(a.cfg.Turn.MinTranscriptChars),
		orchestrator.WithMaxHistory(a.cfg.Turn.MaxHistory),
		orchestrator.WithReplyTimeout(a.cfg.Reply.Timeout.D()),
		orchestrator.WithTranscriptionTimeout(a.cfg.STT.Timeout.D()),
		orchestrator.WithStateHandler(func(s orchestrator.State) { a.publish(hub.EventState, s) }),
		orchestrator.WithTurnHandler(func(t conversation.Turn) { a.publish(hub.EventTurn, t) }),
		orchestrator.WithLevelHandler(func(l float64) { a.publish(hub.EventLevel, l) }),
		orchestrator.WithTranscriptHandler(func(s string) { a.publish(hub.EventTranscript, s) }),
		orchestrator.WithLogger(a.logger),
	)
	return err
}

func (a *App) initServer() error {
	cfg := web.Config{
		Addr:          a.cfg.Server.Addr,
		Controller:    a.orch,
		History:       a.ledger,
		Hub:           a.events,
		Notifications: a.notes,
		Latency:       a.latency,
		Static:        a.cfg.Server.Static,
		Logger:        a.logger,
	}
	if a.cfg.Server.Metrics {
		cfg.Metrics = a.metrics
	}
	var err error
	a.server, err = web.NewServer(cfg)
	return err
}

func (a *App) publish(eventType string, data any) {
	if a.onEvent != nil {
		a.onEvent(hub.NewEvent(eventType, data))
	}
	if err := a.events.Publish(eventType, data); err != nil {
		a.log.Debug("event not published", "type", eventType, "error", err)
	}
}

// WaitQuiet blocks until queued speech has played or timeout passes.
func (a *App) WaitQuiet(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.queue.Wait(ctx)
}
