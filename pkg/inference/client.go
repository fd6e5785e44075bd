package inference

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/echospeak/internal/httpc"
)

const providerClient = "client"

// Client talks to any OpenAI-compatible chat completions API.
type Client struct {
	cfg     *Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.BaseURL == "" {
		return nil, WrapError(providerClient, fmt.Errorf("base URL required"))
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "inference.client"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	payload := chatPayload{
		Model:       c.cfg.model(req),
		Messages:    make([]chatMessage, len(req.Messages)),
		MaxTokens:   c.cfg.maxTokens(req),
		Temperature: c.cfg.temperature(req),
	}
	for i, m := range req.Messages {
		payload.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("marshal payload: %w", err))
	}

	start := time.Now()
	raw, err := c.send(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var out chatCompletion
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, WrapError(providerClient, ErrEmptyResponse)
	}
	choice := out.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, WrapError(providerClient, ErrEmptyResponse)
	}

	resp := &ChatResponse{
		Message:      NewAssistantMessage(content),
		FinishReason: choice.FinishReason,
		Usage:        Usage(out.Usage),
		Model:        out.Model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	c.logger.Debug("chat completed",
		"model", resp.Model,
		"messages", len(req.Messages),
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// Health lists models.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, "/models", nil)
	return err
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// send returns the body of a 200 response. Transport errors, rate limits
// and 5xx are retried; everything else, quota included, returns at once.
func (c *Client) send(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		data, err := c.once(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, WrapError(providerClient, ctx.Err())
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		if attempt >= c.cfg.Retries {
			return nil, err
		}

		c.logger.Warn("retrying request", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, WrapError(providerClient, ctx.Err())
		case <-time.After(c.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapError(providerClient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerClient, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// decodeAPIError reads {"error":{"message","type","code"}}, falling back to
// the raw body.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body), Provider: providerClient}
	var r struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &r) == nil && r.Error.Message != "" {
		apiErr.Message = r.Error.Message
		apiErr.Code = cmp.Or(r.Error.Code, r.Error.Type)
	}
	return apiErr
}

var _ Provider = (*Client)(nil)
