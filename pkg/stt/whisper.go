package stt

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/echospeak/internal/httpc"
	"github.com/teslashibe/echospeak/pkg/audioio"
)

const (
	whisperURL      = "https://api.openai.com/v1/audio/transcriptions"
	providerWhisper = "whisper"
)

// Whisper uploads recordings to OpenAI's transcription endpoint.
type Whisper struct {
	config *Config
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Whisper{
		config: cfg,
		url:    cmp.Or(cfg.BaseURL, whisperURL),
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "stt.whisper"),
	}, nil
}

type whisperReply struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type whisperError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Transcribe uploads clip as WAV. Clips that are too short or too quiet
// never leave the process.
func (w *Whisper) Transcribe(ctx context.Context, clip audioio.Clip) (*Transcript, error) {
	if d := clip.Duration(); clip.Empty() || d < w.config.MinDuration {
		return nil, fmt.Errorf("%w: %v", ErrTooShort, d)
	}
	if w.config.MinLevel > 0 && clip.Level() < w.config.MinLevel {
		return nil, ErrNoSpeech
	}

	form, contentType, err := w.form(clip)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}

	start := time.Now()
	reply, err := w.upload(ctx, form, contentType)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	text := strings.TrimSpace(reply.Text)
	w.logger.Debug("transcribed", "audio", clip.Duration(), "chars", len(text), "latency", latency)
	if text == "" {
		return nil, ErrNoSpeech
	}
	return &Transcript{
		Text:          text,
		Language:      cmp.Or(reply.Language, w.config.Language),
		AudioDuration: clip.Duration(),
		LatencyMs:     latency.Milliseconds(),
	}, nil
}

func (w *Whisper) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *Whisper) form(clip audioio.Clip) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	file, err := mw.CreateFormFile("file", "recording.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := file.Write(clip.WAV()); err != nil {
		return nil, "", err
	}

	fields := [][2]string{{"model", w.config.Model}, {"response_format", "json"}}
	if w.config.Language != "" {
		fields = append(fields, [2]string{"language", w.config.Language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// upload posts the form, retrying transient failures. An exhausted quota
// is final.
func (w *Whisper) upload(ctx context.Context, form []byte, contentType string) (*whisperReply, error) {
	var last error
	for attempt := range w.config.MaxRetries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, WrapError(providerWhisper, ctx.Err())
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		reply, err := w.post(ctx, form, contentType)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return nil, WrapError(providerWhisper, ctx.Err())
		}
		if apiErr, ok := err.(*APIError); ok && !apiErr.IsRetryable() {
			return nil, apiErr
		}
		w.logger.Warn("transcription attempt failed", "attempt", attempt+1, "error", err)
		last = err
	}
	return nil, last
}

func (w *Whisper) post(ctx context.Context, form []byte, contentType string) (*whisperReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(form))
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}
	req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerWhisper, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, whisperAPIError(resp.StatusCode, body)
	}

	var reply whisperReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, WrapError(providerWhisper, fmt.Errorf("decode response: %w", err))
	}
	return &reply, nil
}

func whisperAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: string(body), Provider: providerWhisper}
	var payload whisperError
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		e.Message = payload.Error.Message
		e.Code = cmp.Or(payload.Error.Code, payload.Error.Type)
	}
	return e
}

var _ Provider = (*Whisper)(nil)
