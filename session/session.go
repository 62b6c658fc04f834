package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
)

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Options tune per-connection behaviour.
type Options struct {
	SendQueue    int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

// Session is one authenticated, board-bound live connection.
//
// send is never closed; done signals shutdown so concurrent broadcasters
// cannot panic on a closed channel.
type Session struct {
	ID      string
	UserID  string
	BoardID string

	conn   Conn
	opts   Options
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *log.Entry
}

func newSession(conn Conn, boardID, userID string, opts Options, logger *log.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		UserID:  userID,
		BoardID: boardID,
		conn:    conn,
		opts:    opts,
		send:    make(chan []byte, opts.SendQueue),
		done:    make(chan struct{}),
		logger:  logger.WithFields(log.Fields{"session": id, "board": boardID, "user": userID}),
	}
}

// Send queues msg for the write pump without blocking. It fails with
// ErrTransportFailure when the session is closed or its queue is full.
func (s *Session) Send(msg []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session %s closed", domain.ErrTransportFailure, s.ID)
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: session %s closed", domain.ErrTransportFailure, s.ID)
	default:
		return fmt.Errorf("%w: session %s send queue full", domain.ErrTransportFailure, s.ID)
	}
}

// Done is closed once the session shuts down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close is idempotent. It stops the write pump and closes the connection,
// which also unblocks the read loop.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Debug("close connection")
		}
	})
}

// Logger returns the session's log entry.
func (s *Session) Logger() *log.Entry { return s.logger }

// WritePump drains the send queue to the connection and pings the peer until
// the session closes. Any write failure closes the session.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	defer s.Close()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.WithError(err).Info("write failed, closing session")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				s.logger.WithError(err).Info("ping failed, closing session")
				return
			}
		}
	}
}

// ReadLoop reads frames until the connection fails, calling handle for each
// text or binary message. The read deadline is pushed forward on every pong,
// bounding how long a dead peer stays registered.
func (s *Session) ReadLoop(limit int64, handle func(msg []byte)) error {
	if limit > 0 {
		s.conn.SetReadLimit(limit)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(msg)
	}
}
