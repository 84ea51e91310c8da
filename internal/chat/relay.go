package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/repository"
	"chat-relay/internal/types"

	"github.com/rs/zerolog"
)

const (
	errHistoryUnavailable = "history could not be loaded"
	errMessageNotSaved    = "message could not be saved"
)

// Relay drives each connection through join, receive and leave. It persists
// every message before broadcasting it.
type Relay struct {
	store    repository.MessageRepo
	registry Registry
	log      zerolog.Logger
	timeout  time.Duration

	// mu orders history snapshots against append+broadcast, so a joiner sees
	// each message exactly once and broadcast order matches history order.
	// Joins only read, so they share it.
	mu sync.RWMutex
}

// NewRelay builds a Relay. timeout bounds each store call; zero means no bound
// beyond the caller's context.
func NewRelay(store repository.MessageRepo, registry Registry, timeout time.Duration, log zerolog.Logger) *Relay {
	return &Relay{
		store:    store,
		registry: registry,
		timeout:  timeout,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// Join sends the full history to c alone and then registers it. On error c is
// left unregistered and the caller should close it.
func (r *Relay) Join(ctx context.Context, c Conn) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	history, err := r.store.ListAll(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to load history for new connection")
		r.deliverError(c, errHistoryUnavailable)
		return err
	}
	if history == nil {
		history = []*models.Message{}
	}

	payload, err := json.Marshal(types.HistoryFrame{Type: types.TypeOldMessages, Data: history})
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := c.Deliver(payload); err != nil {
		return err
	}

	r.registry.Register(c)
	r.log.Debug().Int("history", len(history)).Msg("connection joined")
	return nil
}

// Receive handles one inbound frame from c. Malformed frames and store
// failures are reported and dropped; neither closes the connection.
func (r *Relay) Receive(ctx context.Context, c Conn, raw []byte) error {
	in, err := ParseInbound(raw)
	if err != nil {
		r.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping inbound payload")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	msg, err := r.store.Append(ctx, *in.User, *in.Content, in.FileURL)
	if err != nil {
		r.log.Error().Err(err).Str("user", *in.User).Msg("message not persisted, skipping broadcast")
		r.deliverError(c, errMessageNotSaved)
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	r.registry.Broadcast(payload)
	return nil
}

// Leave removes c from the broadcast set.
func (r *Relay) Leave(c Conn) {
	r.registry.Unregister(c)
}

func (r *Relay) deliverError(c Conn, reason string) {
	payload, err := json.Marshal(types.ErrorFrame{Type: types.TypeError, Error: reason})
	if err != nil {
		return
	}
	if err := c.Deliver(payload); err != nil {
		r.log.Debug().Err(err).Msg("could not report error to connection")
	}
}

func (r *Relay) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
