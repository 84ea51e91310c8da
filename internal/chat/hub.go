package chat

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrDelivery is returned by Conn.Deliver when a payload cannot be queued.
var ErrDelivery = errors.New("delivery failed")

// Conn is one open client channel as seen by the registry.
type Conn interface {
	// Deliver queues payload for the client without blocking.
	Deliver(payload []byte) error
	// Close ends the connection. It must be safe to call more than once.
	Close()
}

// Registry is the set of broadcast targets. Relay depends only on this
// interface so an out-of-process fan-out can replace Hub.
type Registry interface {
	Register(c Conn)
	Unregister(c Conn)
	Broadcast(payload []byte)
}

// Hub is the in-process Registry.
type Hub struct {
	mu     sync.RWMutex
	conns  map[Conn]struct{}
	closed bool
	log    zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[Conn]struct{}),
		log:   log.With().Str("component", "hub").Logger(),
	}
}

// Register adds c to the active set. After Close, c is closed instead.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Debug().Int("active", total).Msg("connection registered")
}

// Unregister removes c and closes it. Unknown connections are ignored.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.Close()
	h.log.Debug().Int("active", total).Msg("connection unregistered")
}

// Broadcast delivers payload to every connection registered when the call
// starts. Connections that fail are dropped; the rest still receive it.
func (h *Hub) Broadcast(payload []byte) {
	targets := h.snapshot()

	var failed []Conn
	for _, c := range targets {
		if err := c.Deliver(payload); err != nil {
			h.log.Warn().Err(err).Msg("dropping connection after failed delivery")
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		h.Unregister(c)
	}

	h.log.Debug().Int("targets", len(targets)).Int("failed", len(failed)).Msg("broadcast")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close unregisters and closes every connection and refuses later ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := lo.Keys(h.conns)
	clear(h.conns)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	h.log.Info().Int("closed", len(conns)).Msg("all connections closed")
}

func (h *Hub) snapshot() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.conns)
}
