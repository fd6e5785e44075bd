package stt

import (
	"log/slog"
	"time"
)

// Config configures a transcription provider.
type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string // ISO hint, also reported when the service omits one

	// Clips shorter than MinDuration fail with ErrTooShort, and clips
	// quieter than MinLevel (RMS, 0 disables) fail with ErrNoSpeech,
	// before anything is uploaded.
	MinDuration time.Duration
	MinLevel    float64

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

type Option func(*Config)

func WithAPIKey(key string) Option           { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option          { return func(c *Config) { c.BaseURL = url } }
func WithModel(model string) Option          { return func(c *Config) { c.Model = model } }
func WithLanguage(lang string) Option        { return func(c *Config) { c.Language = lang } }
func WithMinDuration(d time.Duration) Option { return func(c *Config) { c.MinDuration = d } }
func WithMinLevel(level float64) Option      { return func(c *Config) { c.MinLevel = level } }
func WithTimeout(d time.Duration) Option     { return func(c *Config) { c.Timeout = d } }
func WithLogger(logger *slog.Logger) Option  { return func(c *Config) { c.Logger = logger } }

// WithRetry retries rate limits and 5xx responses up to n times, waiting
// delay times the attempt number in between.
func WithRetry(n int, delay time.Duration) Option {
	return func(c *Config) { c.MaxRetries, c.RetryDelay = n, delay }
}

// DefaultConfig transcribes English with whisper-1 and ignores clips under
// 100ms.
func DefaultConfig() *Config {
	return &Config{
		Model:       "whisper-1",
		Language:    "en",
		MinDuration: 100 * time.Millisecond,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  200 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}
