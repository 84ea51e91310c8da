package api

import (
	"context"
	"sync"
)

// Sessions tracks websocket handlers that are still running, so shutdown can
// wait for them before releasing the message store.
type Sessions struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSessions() *Sessions {
	return &Sessions{}
}

// begin reports false once Close has been called.
func (s *Sessions) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Sessions) done() {
	s.wg.Done()
}

// Close refuses new sessions. Running ones are unaffected.
func (s *Sessions) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until every running session has returned or ctx ends.
func (s *Sessions) Wait(ctx context.Context) error {
	s.Close()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
