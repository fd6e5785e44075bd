package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs.
const (
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs synthesizes through the text-to-speech REST endpoint.
type ElevenLabs struct {
	cfg *Config
	api *endpoint
}

// NewElevenLabs requires an API key and a voice.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	api := newEndpoint(providerElevenLabs, elevenLabsBaseURL, cfg)
	api.auth = func(r *http.Request) { r.Header.Set("xi-api-key", cfg.APIKey) }
	api.decodeErr = decodeElevenLabsError
	return &ElevenLabs{cfg: cfg, api: api}, nil
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

func (s VoiceSettings) elevenLabs() elevenLabsVoiceSettings {
	return elevenLabsVoiceSettings{
		Stability:       s.Stability,
		SimilarityBoost: s.SimilarityBoost,
		Style:           s.Style,
		SpeakerBoost:    s.SpeakerBoost,
	}
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	payload := struct {
		Text          string                  `json:"text"`
		ModelID       string                  `json:"model_id"`
		VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
	}{text, e.cfg.ModelID, e.cfg.VoiceSettings.elevenLabs()}

	path := "/text-to-speech/" + url.PathEscape(e.cfg.VoiceID) +
		"?" + url.Values{"output_format": {string(e.cfg.OutputFormat)}}.Encode()

	format, accept := pcmFormat(e.cfg.OutputFormat), "audio/pcm"
	if e.cfg.OutputFormat == EncodingMP3 {
		format = AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1}
		accept = "audio/mpeg"
	}
	return e.api.synthesize(ctx, path, accept, text, payload, format)
}

// Health validates the key against the user endpoint.
func (e *ElevenLabs) Health(ctx context.Context) error {
	return e.api.health(ctx, "/user")
}

func (e *ElevenLabs) Close() error {
	e.api.close()
	return nil
}

func (e *ElevenLabs) VoiceID() string { return e.cfg.VoiceID }
func (e *ElevenLabs) ModelID() string { return e.cfg.ModelID }

// decodeElevenLabsError reads {"detail":{"status":..,"message":..}}.
// Exhausted character quota arrives as 401 with status quota_exceeded.
func decodeElevenLabsError(body []byte) (string, string) {
	var r struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}
	if json.Unmarshal(body, &r) != nil {
		return "", ""
	}
	return r.Detail.Message, r.Detail.Status
}

var _ Provider = (*ElevenLabs)(nil)
