package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource opens a capture device on cfg.Backend. Auto means native.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	return build[Source](cfg, logger, "source",
		func(cfg Config, l *slog.Logger) (Source, error) { return NewMockSource(cfg, l), nil },
		newNativeSource)
}

// NewSink opens a playback device on cfg.Backend. Auto means native.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return build[Sink](cfg, logger, "sink",
		func(cfg Config, l *slog.Logger) (Sink, error) { return NewMockSink(cfg, l), nil },
		newNativeSink)
}

type constructor[T any] func(Config, *slog.Logger) (T, error)

func build[T any](cfg Config, logger *slog.Logger, kind string, mock, native constructor[T]) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, fmt.Errorf("audioio: %s config: %w", kind, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		// Auto never degrades to the mock; without cgo native reports
		// ErrBackendUnavailable.
		backend = BackendNative
	}
	logger.Debug("opening audio "+kind, "backend", backend, "rate", cfg.SampleRate, "channels", cfg.Channels)

	switch backend {
	case BackendMock:
		return mock(cfg, logger)
	case BackendNative:
		return native(cfg, logger)
	}
	return zero, fmt.Errorf("audioio: unsupported backend %q", backend)
}

// NewOpener returns an Opener bound to backend. The capture format comes
// from whatever Config the caller passes.
func NewOpener(backend Backend, logger *slog.Logger) Opener {
	return func(cfg Config) (Source, error) {
		cfg.Backend = backend
		return NewSource(cfg, logger)
	}
}

// AvailableBackends lists the backends compiled into this binary.
func AvailableBackends() []Backend {
	if nativeAvailable {
		return []Backend{BackendMock, BackendNative}
	}
	return []Backend{BackendMock}
}
