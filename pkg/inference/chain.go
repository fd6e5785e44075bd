package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend is a named Provider inside a Chain.
type Backend struct {
	Name string
	Provider
}

// Chain asks each backend in order and returns the first reply. When all
// fail the ChainError is quota only if every backend was out of quota, so
// one healthy-but-flaky backend keeps callers off the offline replies.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
}

func NewChain(logger *slog.Logger, backends ...Backend) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{backends: backends, logger: logger.With("component", "inference.chain")}, nil
}

func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	chainErr := &ChainError{}
	for i, b := range c.backends {
		resp, err := b.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("failover backend answered", "backend", b.Name)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		chainErr.Failures = append(chainErr.Failures, Failure{Backend: b.Name, Err: err})
		c.logger.Warn("backend failed", "backend", b.Name, "quota", IsQuotaExceeded(err), "error", err)
	}
	return nil, chainErr
}

// Health passes while any backend is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, b := range c.backends {
		err := b.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}
	return WrapError("chain", errors.Join(errs...))
}

func (c *Chain) Close() error {
	var errs []error
	for _, b := range c.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
