// Package audioio is the microphone and speaker layer.
//
// The native backend captures with miniaudio (malgo) and plays through oto;
// both need cgo. The mock backend synthesizes capture and records playback
// for tests and headless runs. Captured chunks accumulate into a Clip,
// which is what transcription consumes.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend selects a device implementation.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendNative Backend = "native"
	BackendMock   Backend = "mock"
)

const (
	// CaptureSampleRate is what the transcription service expects.
	CaptureSampleRate = 16000
	// PlaybackSampleRate matches the PCM the synthesis providers return.
	PlaybackSampleRate = 24000
)

// Config describes a device and the format it runs at.
type Config struct {
	Backend        Backend       `toml:"backend" json:"backend"`
	SampleRate     int           `toml:"sample_rate" json:"sample_rate"`
	Channels       int           `toml:"channels" json:"channels"`
	BufferDuration time.Duration `toml:"buffer_duration" json:"buffer_duration"`

	// Capture processing the caller would like. Backends that cannot do
	// it say so once and record raw input.
	EchoCancellation bool `toml:"echo_cancellation" json:"echo_cancellation"`
	NoiseSuppression bool `toml:"noise_suppression" json:"noise_suppression"`
	AutoGainControl  bool `toml:"auto_gain_control" json:"auto_gain_control"`
}

// DefaultConfig is the playback profile: mono 24 kHz, 20 ms buffers.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     PlaybackSampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// CaptureConfig is the microphone profile: mono 16 kHz, 100 ms buffers,
// with echo cancellation, noise suppression and gain control requested.
func CaptureConfig() Config {
	return Config{
		Backend:          BackendAuto,
		SampleRate:       CaptureSampleRate,
		Channels:         1,
		BufferDuration:   100 * time.Millisecond,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d is not positive", c.SampleRate))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", c.Channels))
	}
	if c.BufferDuration <= 0 {
		errs = append(errs, fmt.Errorf("buffer_duration %v is not positive", c.BufferDuration))
	}
	return errors.Join(errs...)
}

// BufferSize is the number of frames in one buffer.
func (c *Config) BufferSize() int {
	return int(time.Duration(c.SampleRate) * c.BufferDuration / time.Second)
}
