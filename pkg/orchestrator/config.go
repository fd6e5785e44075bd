package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/echospeak/pkg/conversation"
)

// Config holds orchestrator settings and observers.
type Config struct {
	// UserName is carried into the greeting and the reply system prompt.
	UserName string

	// MinTranscriptChars rejects transcripts shorter than this (default: 2).
	MinTranscriptChars int

	// TranscriptionTimeout bounds one transcription call (default: 30s).
	TranscriptionTimeout time.Duration

	// ReplyTimeout bounds one reply call (default: 30s).
	ReplyTimeout time.Duration

	// MaxHistory is how many recent turns are sent for a reply (default: 20).
	MaxHistory int

	// Model overrides the reply provider's default model.
	Model string

	// Observers. They are called outside the orchestrator lock.
	OnState      func(State)
	OnTurn       func(conversation.Turn)
	OnLevel      func(float64)
	OnTranscript func(string)

	Logger *slog.Logger
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		MinTranscriptChars:   2,
		TranscriptionTimeout: 30 * time.Second,
		ReplyTimeout:         30 * time.Second,
		MaxHistory:           20,
		Logger:               slog.Default(),
	}
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithUserName sets the user's display name.
func WithUserName(name string) Option {
	return func(c *Config) { c.UserName = name }
}

// WithMinTranscriptChars sets the shortest usable transcript.
func WithMinTranscriptChars(n int) Option {
	return func(c *Config) { c.MinTranscriptChars = n }
}

// WithTranscriptionTimeout bounds transcription calls.
func WithTranscriptionTimeout(d time.Duration) Option {
	return func(c *Config) { c.TranscriptionTimeout = d }
}

// WithReplyTimeout bounds reply calls.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReplyTimeout = d }
}

// WithMaxHistory sets the reply context window in turns.
func WithMaxHistory(n int) Option {
	return func(c *Config) { c.MaxHistory = n }
}

// WithModel overrides the reply model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithStateHandler observes state transitions.
func WithStateHandler(fn func(State)) Option {
	return func(c *Config) { c.OnState = fn }
}

// WithTurnHandler observes committed turns.
func WithTurnHandler(fn func(conversation.Turn)) Option {
	return func(c *Config) { c.OnTurn = fn }
}

// WithLevelHandler receives microphone amplitude while recording.
func WithLevelHandler(fn func(float64)) Option {
	return func(c *Config) { c.OnLevel = fn }
}

// WithTranscriptHandler receives each usable transcript.
func WithTranscriptHandler(fn func(string)) Option {
	return func(c *Config) { c.OnTranscript = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TranscriptionTimeout <= 0 || c.ReplyTimeout <= 0 {
		return errors.New("orchestrator: timeouts must be positive")
	}
	if c.MaxHistory <= 0 {
		return errors.New("orchestrator: max history must be positive")
	}
	return nil
}
