package session

import (
	"errors"
	"sync"
	"time"
)

var errConnClosed = errors.New("use of closed connection")

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// ReadMessage; written frames are recorded.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	pings    int
	closed   bool
	failNext error
	limit    int64

	inbox  chan []byte
	closeC chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), closeC: make(chan struct{})}
}

func (f *fakeConn) deliver(msg string) { f.inbox <- []byte(msg) }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbox:
		return 1, msg, nil
	case <-f.closeC:
		return 0, nil, errConnClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errConnClosed
	}
	if f.failNext != nil {
		return f.failNext
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errConnClosed
	}
	f.pings++
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(limit int64)         { f.limit = limit }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeC)
	}
	return nil
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
