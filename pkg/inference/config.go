package inference

import (
	"log/slog"
	"time"
)

// Config is shared by Client and Gemini. An empty APIKey is allowed for
// local OpenAI-compatible servers.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxTokens   int
	Temperature float64

	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	Logger *slog.Logger
}

type Option func(*Config)

// WithBaseURL selects the endpoint, e.g. "http://localhost:11434/v1".
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }
func WithAPIKey(key string) Option  { return func(c *Config) { c.APIKey = key } }
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }
func WithMaxTokens(n int) Option    { return func(c *Config) { c.MaxTokens = n } }

func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry retries rate limits, 5xx and transport errors. Quota never is.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.Retries = retries
		c.RetryDelay = delay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig targets gpt-4o-mini with a 1000 token reply ceiling.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   1000,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		Retries:     2,
		RetryDelay:  200 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// maxTokens and temperature resolve per-request overrides.
func (c *Config) maxTokens(req *ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return c.MaxTokens
}

func (c *Config) temperature(req *ChatRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return c.Temperature
}

func (c *Config) model(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.Model
}
