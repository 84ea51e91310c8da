package chat

import (
	"fmt"
	"sync"
)

// fakeConn records delivered payloads in memory.
type fakeConn struct {
	name string

	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
	closes   int
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name}
}

func (f *fakeConn) Deliver(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return fmt.Errorf("%w: %s", ErrDelivery, f.name)
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closes++
}

func (f *fakeConn) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
