package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const queueSize = 256

// Hub fans events out to every connected listener. A single goroutine,
// Run, owns membership changes and delivery.
type Hub struct {
	logger *slog.Logger

	join   chan *Client
	leave  chan *Client
	outbox chan Message

	// done is closed once Run has returned.
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.RWMutex
	members map[*Client]struct{}

	live    atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub; name tags its log lines.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "hub", "hub", name),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		outbox:  make(chan Message, queueSize),
		done:    make(chan struct{}),
		members: make(map[*Client]struct{}),
	}
}

// Run delivers until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.live.Store(true)
	defer func() {
		h.live.Store(false)
		h.doneOnce.Do(func() { close(h.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.members {
				h.evict(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.join:
			h.mu.Lock()
			h.members[c] = struct{}{}
			n := len(h.members)
			h.mu.Unlock()
			h.logger.Info("listener joined", "listeners", n)
		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.members[c]; ok {
				h.evict(c)
			}
			n := len(h.members)
			h.mu.Unlock()
			h.logger.Info("listener left", "listeners", n)
		case msg := <-h.outbox:
			h.fanout(msg)
		}
	}
}

// fanout never waits on a listener; one that cannot keep up is cut off.
func (h *Hub) fanout(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.members {
		select {
		case c.out <- msg:
		default:
			h.evict(c)
			h.logger.Warn("listener too slow, disconnected")
		}
	}
}

// evict closes c's queue. Caller holds h.mu.
func (h *Hub) evict(c *Client) {
	delete(h.members, c)
	close(c.out)
}

// Broadcast queues msg for every listener, dropping it when the hub is
// backed up.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.outbox <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("hub backed up, event dropped")
	}
}

// Publish wraps data in an Event and broadcasts it.
func (h *Hub) Publish(kind string, data any) error {
	msg, err := EncodeEvent(NewEvent(kind, data))
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
func (h *Hub) IsRunning() bool { return h.live.Load() }
