package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabsWS = "elevenlabs_ws"
	wsHandshakeTimeout   = 10 * time.Second
)

// ElevenLabsWS synthesizes over the ElevenLabs stream-input websocket. Each
// Synthesize call dials its own connection, sends the whole utterance and
// collects audio until the server marks the stream final.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
	dialer  *websocket.Dialer

	// OnAudio, when set, receives each decoded chunk as it arrives.
	OnAudio func(pcm []byte)
}

// NewElevenLabsWS creates a new websocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}, nil
}

type wsTextMessage struct {
	Text                 string                   `json:"text"`
	TryTriggerGeneration bool                     `json:"try_trigger_generation,omitempty"`
	VoiceSettings        *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type wsAudioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabsWS, ErrEmptyText)
	}
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	start := time.Now()

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, WrapError(providerElevenLabsWS, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	settings := e.config.VoiceSettings.elevenLabs()
	msgs := []wsTextMessage{
		{Text: " ", VoiceSettings: &settings},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			return nil, WrapError(providerElevenLabsWS, e.ctxErr(ctx, fmt.Errorf("send: %w", err)))
		}
	}

	var (
		audio     []byte
		firstByte int64
	)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				break
			}
			return nil, WrapError(providerElevenLabsWS, e.ctxErr(ctx, fmt.Errorf("read: %w", err)))
		}

		var msg wsAudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			e.logger.Warn("failed to parse response", "error", err)
			continue
		}
		if msg.Error != "" {
			return nil, &APIError{Code: msg.Error, Message: msg.Message, Provider: providerElevenLabsWS}
		}
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				e.logger.Warn("failed to decode audio", "error", err)
				continue
			}
			if firstByte == 0 {
				firstByte = time.Since(start).Milliseconds()
			}
			audio = append(audio, chunk...)
			if e.OnAudio != nil {
				e.OnAudio(chunk)
			}
		}
		if msg.IsFinal {
			break
		}
	}

	if len(audio) == 0 {
		return nil, WrapError(providerElevenLabsWS, ErrEmptyAudio)
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	format := pcmFormat(e.config.OutputFormat)
	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"first_byte_ms", firstByte,
		"total_ms", time.Since(start).Milliseconds(),
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: firstByte,
		Duration:  pcmDuration(len(audio), format.SampleRate),
	}, nil
}

func (e *ElevenLabsWS) dial(ctx context.Context) (*websocket.Conn, error) {
	q := url.Values{
		"model_id":      {e.config.ModelID},
		"output_format": {string(e.config.OutputFormat)},
	}
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.baseURL, url.PathEscape(e.config.VoiceID), q.Encode())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("websocket dial: %v", err),
				Provider:   providerElevenLabsWS,
			}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

func (e *ElevenLabsWS) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Health dials and immediately closes a connection.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return WrapError(providerElevenLabsWS, err)
	}
	return conn.Close()
}

// Close is a no-op; connections live for one Synthesize call.
func (e *ElevenLabsWS) Close() error {
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabsWS) VoiceID() string {
	return e.config.VoiceID
}

var _ Provider = (*ElevenLabsWS)(nil)
