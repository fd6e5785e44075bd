package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/echospeak/internal/httpc"
)

// endpoint is the request plumbing shared by the REST providers.
type endpoint struct {
	name    string
	baseURL string
	cfg     *Config
	client  *http.Client
	logger  *slog.Logger

	auth      func(*http.Request)
	decodeErr func(body []byte) (message, code string)
}

func newEndpoint(name, defaultURL string, cfg *Config) *endpoint {
	base := cfg.BaseURL
	if base == "" {
		base = defaultURL
	}
	return &endpoint{
		name:    name,
		baseURL: strings.TrimRight(base, "/"),
		cfg:     cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts."+name),
	}
}

// synthesize posts payload to path and reads the whole audio body.
func (e *endpoint) synthesize(ctx context.Context, path, accept, text string, payload any, format AudioFormat) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(e.name, ErrEmptyText)
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(e.name, fmt.Errorf("marshal payload: %w", err))
	}

	start := time.Now()
	resp, err := e.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		e.auth(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(e.name, fmt.Errorf("read response: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(e.name, ErrEmptyAudio)
	}

	latency := time.Since(start).Milliseconds()
	e.logger.Debug("synthesized", "chars", len(text), "bytes", len(audio), "latency_ms", latency)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  pcmDuration(len(audio), format.SampleRate),
	}, nil
}

// health issues an authenticated GET and expects 200.
func (e *endpoint) health(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return WrapError(e.name, err)
	}
	e.auth(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(e.name, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return e.apiError(resp)
	}
	return nil
}

// do sends the request built by newReq, retrying transport errors, rate
// limits and 5xx responses up to cfg.Retries times.
func (e *endpoint) do(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(e.name, ctx.Err())
			case <-time.After(e.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, WrapError(e.name, fmt.Errorf("create request: %w", err))
		}
		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, WrapError(e.name, ctx.Err())
			}
			lastErr = WrapError(e.name, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := e.apiError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		e.logger.Warn("retrying", "attempt", attempt+1, "status", apiErr.StatusCode)
	}
	return nil, lastErr
}

func (e *endpoint) apiError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body), Provider: e.name}
	if msg, code := e.decodeErr(body); msg != "" {
		apiErr.Message, apiErr.Code = msg, code
	}
	return apiErr
}

func (e *endpoint) close() {
	e.client.CloseIdleConnections()
}
