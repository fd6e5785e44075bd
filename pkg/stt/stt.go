// Package stt turns finalized recordings into text.
//
// Providers classify their failures so callers can tell an unusable
// recording apart from an exhausted quota or a plain outage:
//
//	transcript, err := provider.Transcribe(ctx, clip)
//	switch stt.Classify(err) {
//	case stt.KindTooShort, stt.KindNoSpeech:
//	    // ask the user to try again
//	case stt.KindQuotaExceeded:
//	    // surface the quota problem
//	}
package stt

import (
	"context"
	"time"

	"github.com/teslashibe/echospeak/pkg/audioio"
)

// Provider transcribes one recording at a time.
type Provider interface {
	// Transcribe converts a finalized recording to text.
	Transcribe(ctx context.Context, clip audioio.Clip) (*Transcript, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Transcript is the result of transcription.
type Transcript struct {
	// Text is the full transcribed text, trimmed.
	Text string `json:"text"`

	// Language is the detected or requested language.
	Language string `json:"language,omitempty"`

	// AudioDuration is the length of the transcribed clip.
	AudioDuration time.Duration `json:"audio_duration"`

	// LatencyMs is the round-trip time of the request.
	LatencyMs int64 `json:"latency_ms"`
}
