package session

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrAlreadyRegistered is returned when a connection already has a live session.
var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry tracks live sessions per board. Readers get snapshot copies, so a
// broadcast never observes a half-registered or half-removed session.
type Registry struct {
	opts   Options
	logger *log.Logger

	mu     sync.RWMutex
	boards map[string]map[string]*Session
	conns  map[Conn]*Session
}

func NewRegistry(opts Options, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		opts:   opts.withDefaults(),
		logger: logger,
		boards: make(map[string]map[string]*Session),
		conns:  make(map[Conn]*Session),
	}
}

// Register binds conn to boardID for userID and returns the new session.
func (r *Registry) Register(conn Conn, boardID, userID string) (*Session, error) {
	s := newSession(conn, boardID, userID, r.opts, r.logger)

	r.mu.Lock()
	if _, ok := r.conns[conn]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	r.conns[conn] = s
	if r.boards[boardID] == nil {
		r.boards[boardID] = make(map[string]*Session)
	}
	r.boards[boardID][s.ID] = s
	count := len(r.boards[boardID])
	r.mu.Unlock()

	s.logger.WithField("board_sessions", count).Info("session registered")
	return s, nil
}

// Unregister removes and closes s. It reports whether s was still registered.
func (r *Registry) Unregister(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	sessions := r.boards[s.BoardID]
	_, ok := sessions[s.ID]
	if ok {
		delete(sessions, s.ID)
		if len(sessions) == 0 {
			delete(r.boards, s.BoardID)
		}
		if r.conns[s.conn] == s {
			delete(r.conns, s.conn)
		}
	}
	count := len(r.boards[s.BoardID])
	r.mu.Unlock()

	s.Close()
	if ok {
		s.logger.WithField("board_sessions", count).Info("session unregistered")
	}
	return ok
}

// SessionsForBoard returns a snapshot of the sessions bound to boardID.
func (r *Registry) SessionsForBoard(boardID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.boards[boardID]
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) BoardCount(boardID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boards[boardID])
}

// CloseAll unregisters every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.conns))
	for _, s := range r.conns {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		r.Unregister(s)
	}
}
