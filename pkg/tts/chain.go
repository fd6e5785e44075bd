package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultQuotaCooldown is how long a Chain skips a backend whose account
// ran out of quota.
const DefaultQuotaCooldown = 10 * time.Minute

// Backend is a named Provider inside a Chain.
type Backend struct {
	Name string
	Provider
}

// Chain fails over between backends in order. A backend that reports an
// exhausted quota is benched for Cooldown so the next utterances go
// straight to the one that still works.
type Chain struct {
	backends []Backend
	logger   *slog.Logger

	// Cooldown is read on every failure; zero disables benching.
	Cooldown time.Duration

	mu      sync.Mutex
	benched map[string]time.Time
	now     func() time.Time
}

// NewChain needs at least one backend.
func NewChain(logger *slog.Logger, backends ...Backend) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		backends: backends,
		logger:   logger.With("component", "tts.chain"),
		Cooldown: DefaultQuotaCooldown,
		benched:  make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// Synthesize returns the first backend's success. When every backend is
// benched they are all tried anyway rather than failing without a request.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	order := c.available()
	if len(order) == 0 {
		order = c.backends
	}

	chainErr := &ChainError{}
	for i, b := range order {
		result, err := b.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("failover backend succeeded", "backend", b.Name)
			}
			return result, nil
		}
		if errors.Is(err, ErrEmptyText) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		chainErr.Failures = append(chainErr.Failures, Failure{Backend: b.Name, Err: err})
		if IsQuotaExceeded(err) {
			c.bench(b.Name)
		}
		c.logger.Warn("backend failed", "backend", b.Name, "error", err)
	}
	return nil, chainErr
}

func (c *Chain) available() []Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]Backend, 0, len(c.backends))
	for _, b := range c.backends {
		if until, ok := c.benched[b.Name]; ok && now.Before(until) {
			continue
		}
		delete(c.benched, b.Name)
		out = append(out, b)
	}
	return out
}

func (c *Chain) bench(name string) {
	if c.Cooldown <= 0 {
		return
	}
	c.mu.Lock()
	c.benched[name] = c.now().Add(c.Cooldown)
	c.mu.Unlock()
	c.logger.Warn("backend out of quota, benched", "backend", name, "cooldown", c.Cooldown)
}

// Benched lists the backends currently being skipped.
func (c *Chain) Benched() []string {
	var names []string
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.backends {
		if until, ok := c.benched[b.Name]; ok && now.Before(until) {
			names = append(names, b.Name)
		}
	}
	return names
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
	return fmt.Errorf("tts chain unhealthy: %w", errors.Join(errs...))
}

func (c *Chain) Close() error {
	var errs []error
	for _, b := range c.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)
