package recorder

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/echospeak/pkg/audioio"
)

// Config holds recording parameters.
type Config struct {
	// Capture is the microphone profile requested from the Opener.
	Capture audioio.Config

	// MaxDuration auto-finalizes a session (default: 60s).
	MaxDuration time.Duration

	// LevelInterval is the amplitude sampling cadence (default: 16ms).
	LevelInterval time.Duration

	// DrainTimeout bounds how long finalize waits for in-flight chunks
	// after the device is stopped (default: 500ms).
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the standard recording configuration.
func DefaultConfig() Config {
	return Config{
		Capture:       audioio.CaptureConfig(),
		MaxDuration:   60 * time.Second,
		LevelInterval: 16 * time.Millisecond,
		DrainTimeout:  500 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

// Option configures the Manager.
type Option func(*Config)

// WithCapture overrides the capture profile.
func WithCapture(c audioio.Config) Option {
	return func(cfg *Config) { cfg.Capture = c }
}

// WithMaxDuration sets the session ceiling.
func WithMaxDuration(d time.Duration) Option {
	return func(cfg *Config) { cfg.MaxDuration = d }
}

// WithLevelInterval sets the amplitude sampling cadence.
func WithLevelInterval(d time.Duration) Option {
	return func(cfg *Config) { cfg.LevelInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
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
	if c.MaxDuration <= 0 {
		return errors.New("recorder: max duration must be positive")
	}
	if c.LevelInterval <= 0 {
		return errors.New("recorder: level interval must be positive")
	}
	return c.Capture.Validate()
}
