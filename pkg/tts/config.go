package tts

import (
	"log/slog"
	"time"
)

// DefaultVoiceID is the ElevenLabs "Sarah" voice the assistant speaks with.
const DefaultVoiceID = "EXAVITQu4vr4xnSDxMaL"

// voices maps the preset names accepted in config files to ElevenLabs ids.
var voices = map[string]string{
	"sarah":     DefaultVoiceID,
	"charlotte": "XB0fDUnXU5powFXDhCwa",
	"rachel":    "21m00Tcm4TlvDq8ikWAM",
	"adam":      "pNInz6obpgDQGcFmaJgB",
}

// VoiceID resolves a preset name. Anything else is taken to be a raw id.
func VoiceID(name string) string {
	if id, ok := voices[name]; ok {
		return id
	}
	return name
}

// Config is shared by every provider in this package. Providers override
// the fields that make no sense for them (OpenAI ignores VoiceSettings).
type Config struct {
	APIKey  string
	BaseURL string

	VoiceID       string
	ModelID       string
	VoiceSettings VoiceSettings
	OutputFormat  Encoding

	// Timeout bounds one request, retries included.
	Timeout time.Duration

	// Retries applies to rate limits and 5xx responses only; the delay
	// grows linearly with the attempt number.
	Retries    int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL points the provider at another endpoint (tests, proxies).
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithVoice accepts a preset name or a provider voice id.
func WithVoice(voice string) Option {
	return func(c *Config) { c.VoiceID = VoiceID(voice) }
}

func WithModel(model string) Option {
	return func(c *Config) { c.ModelID = model }
}

func WithOutputFormat(format Encoding) Option {
	return func(c *Config) { c.OutputFormat = format }
}

func WithVoiceSettings(s VoiceSettings) Option {
	return func(c *Config) { c.VoiceSettings = s }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry sets how many times a retryable failure is attempted again.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.Retries = retries
		c.RetryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig speaks as Sarah on eleven_multilingual_v2 with 24 kHz PCM.
func DefaultConfig() *Config {
	return &Config{
		VoiceID:       DefaultVoiceID,
		ModelID:       ModelMultilingualV2,
		OutputFormat:  EncodingPCM24,
		VoiceSettings: DefaultVoiceSettings(),
		Timeout:       30 * time.Second,
		Retries:       2,
		RetryDelay:    100 * time.Millisecond,
		Logger:        slog.Default(),
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate requires an API key and, for providers addressing voices by id,
// a voice.
func (c *Config) Validate(needVoice bool) error {
	switch {
	case c.APIKey == "":
		return ErrNoAPIKey
	case needVoice && c.VoiceID == "":
		return ErrNoVoiceID
	}
	return nil
}
