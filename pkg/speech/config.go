package speech

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/echospeak/pkg/notify"
)

// Config holds Queue settings.
type Config struct {
	// SynthesisTimeout bounds one synthesis call (default: 15s).
	SynthesisTimeout time.Duration

	// Notify receives the user-visible failure messages.
	Notify notify.Sink

	// OnSpeaking is called when the queue starts and stops working.
	OnSpeaking func(speaking bool)

	// OnResult is called after every task, successful or not.
	OnResult func(Result)

	Logger *slog.Logger
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		SynthesisTimeout: 15 * time.Second,
		Logger:           slog.Default(),
	}
}

// Option configures a Queue.
type Option func(*Config)

// WithSynthesisTimeout bounds each synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(c *Config) { c.SynthesisTimeout = d }
}

// WithNotifier sets the notification sink.
func WithNotifier(s notify.Sink) Option {
	return func(c *Config) { c.Notify = s }
}

// WithSpeakingHandler sets the speaking observer.
func WithSpeakingHandler(fn func(bool)) Option {
	return func(c *Config) { c.OnSpeaking = fn }
}

// WithResultHandler sets the per-task observer.
func WithResultHandler(fn func(Result)) Option {
	return func(c *Config) { c.OnResult = fn }
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
	if c.SynthesisTimeout <= 0 {
		return errors.New("speech: synthesis timeout must be positive")
	}
	return nil
}
