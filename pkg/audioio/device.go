package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrBackendUnavailable means the backend is not compiled in or has
	// no usable device.
	ErrBackendUnavailable = errors.New("audioio: backend unavailable")

	// ErrDeviceLost means the capture device went away mid-session.
	ErrDeviceLost = errors.New("audioio: capture device lost")
)

// Chunk is a run of PCM16 samples, interleaved when Channels > 1.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return framesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

func framesDuration(samples, rate, channels int) time.Duration {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	return time.Duration(samples/channels) * time.Second / time.Duration(rate)
}

// Source is a capture device. Its stream closes on Stop or when the
// device disappears; Err tells the two apart.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Stream() <-chan Chunk
	Err() error
	Config() Config
	Name() string
	io.Closer
}

// Opener acquires a capture device. The caller owns the returned Source
// until Close.
type Opener func(cfg Config) (Source, error)

// Sink is a playback device. Write queues audio and Flush plays the queue,
// returning once it has been heard or ctx is done. Clear silences it.
type Sink interface {
	Start(ctx context.Context) error
	Stop() error
	Write(ctx context.Context, chunk Chunk) error
	Flush(ctx context.Context) error
	Clear() error
	Config() Config
	Name() string
	io.Closer
}
