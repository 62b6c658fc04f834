package api

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memConn is an in-memory session.Conn that records written frames.
type memConn struct {
	mu      sync.Mutex
	written []string
	closed  chan struct{}
	once    sync.Once
}

func newMemConn() *memConn { return &memConn{closed: make(chan struct{})} }

func (c *memConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *memConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *memConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *memConn) SetReadDeadline(time.Time) error           { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *memConn) SetReadLimit(int64)                        {}
func (c *memConn) SetPongHandler(func(string) error)         {}
func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// containing returns the recorded frames that contain substr.
func (c *memConn) containing(substr string) []string {
	var out []string
	for _, m := range c.messages() {
		if strings.Contains(m, substr) {
			out = append(out, m)
		}
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
