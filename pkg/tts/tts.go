// Package tts turns reply text into PCM16 audio.
//
// ElevenLabs (HTTP and websocket stream-input) and OpenAI are supported.
// A Chain tries them in order and benches any backend that runs out of
// quota, so a single exhausted account does not silence the assistant.
package tts

import (
	"context"
	"time"
)

// Provider synthesizes one utterance per call.
type Provider interface {
	Synthesize(ctx context.Context, text string) (*AudioResult, error)
	Health(ctx context.Context) error
	Close() error
}

// AudioResult is a fully buffered utterance.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration // estimated from the byte count
	CharCount int
	LatencyMs int64 // until the first audio byte
}

// AudioFormat describes Audio.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// IsPCM reports whether Audio is raw mono PCM16 the speaker can play as is.
func (f AudioFormat) IsPCM() bool {
	return encodings[f.Encoding].pcm
}

// Encoding names an output format using ElevenLabs' spelling.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
	EncodingMP3   Encoding = "mp3_44100_128"
)

var encodings = map[Encoding]struct {
	rate int
	pcm  bool
}{
	EncodingPCM16: {16000, true},
	EncodingPCM22: {22050, true},
	EncodingPCM24: {24000, true},
	EncodingPCM44: {44100, true},
	EncodingMP3:   {44100, false},
}

// SampleRateFromEncoding returns the rate of enc, 24 kHz when unknown.
func SampleRateFromEncoding(enc Encoding) int {
	if e, ok := encodings[enc]; ok {
		return e.rate
	}
	return 24000
}

// VoiceSettings tune ElevenLabs voices; values run from 0 to 1.
type VoiceSettings struct {
	Stability       float64 `toml:"stability"`
	SimilarityBoost float64 `toml:"similarity_boost"`
	Style           float64 `toml:"style"`
	SpeakerBoost    bool    `toml:"speaker_boost"`
}

func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75, SpeakerBoost: true}
}

func pcmFormat(enc Encoding) AudioFormat {
	return AudioFormat{Encoding: enc, SampleRate: SampleRateFromEncoding(enc), Channels: 1}
}

// pcmDuration is the playback time of n bytes of mono PCM16.
func pcmDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}
