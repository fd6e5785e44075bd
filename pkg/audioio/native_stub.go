//go:build !cgo

package audioio

import (
	"fmt"
	"log/slog"
)

const nativeAvailable = false

// newNativeSource returns an error when built without cgo.
func newNativeSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: native capture requires cgo", ErrBackendUnavailable)
}

// newNativeSink returns an error when built without cgo.
func newNativeSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("%w: native playback requires cgo", ErrBackendUnavailable)
}
