package tts

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI speech models.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI synthesizes through /audio/speech. Output is always 24 kHz PCM16.
type OpenAI struct {
	cfg *Config
	api *endpoint
}

// NewOpenAI defaults to tts-1 speaking as shimmer.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.Apply(opts...)
	cfg.OutputFormat = EncodingPCM24
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}
	if err := cfg.Validate(false); err != nil {
		return nil, err
	}

	api := newEndpoint(providerOpenAI, openAIBaseURL, cfg)
	api.auth = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+cfg.APIKey) }
	api.decodeErr = decodeOpenAIError
	return &OpenAI{cfg: cfg, api: api}, nil
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	payload := struct {
		Model          string `json:"model"`
		Voice          string `json:"voice"`
		Input          string `json:"input"`
		ResponseFormat string `json:"response_format"`
	}{o.cfg.ModelID, o.cfg.VoiceID, text, "pcm"}

	return o.api.synthesize(ctx, "/audio/speech", "audio/pcm", text, payload, pcmFormat(EncodingPCM24))
}

func (o *OpenAI) Health(ctx context.Context) error {
	return o.api.health(ctx, "/models")
}

func (o *OpenAI) Close() error {
	o.api.close()
	return nil
}

func (o *OpenAI) VoiceID() string { return o.cfg.VoiceID }

// decodeOpenAIError reads {"error":{"message":..,"code":..}}. A spent
// balance arrives as 429 with code insufficient_quota.
func decodeOpenAIError(body []byte) (string, string) {
	var r struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &r) != nil {
		return "", ""
	}
	return r.Error.Message, r.Error.Code
}

var _ Provider = (*OpenAI)(nil)
