package storage

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"board-service/domain"
)

// Loader hydrates a board the first time it is referenced in this process.
type Loader interface {
	LoadBoard(ctx context.Context, boardID string) (*domain.Board, bool, error)
}

// Store is the authoritative in-memory mapping from board id to board state.
// Each board lives in its own slot, so mutations on different boards only
// share the read lock used to find the slot.
type Store struct {
	mu     sync.RWMutex
	slots  map[string]*slot
	loader Loader
	logger *log.Logger
}

type slot struct {
	state atomic.Pointer[domain.Board]

	mu        sync.Mutex
	cond      *sync.Cond
	delivered uint64
}

func newSlot(b *domain.Board) *slot {
	s := &slot{delivered: b.Version}
	s.cond = sync.NewCond(&s.mu)
	s.state.Store(b)
	return s
}

// New creates an empty store. loader may be nil.
func New(loader Loader, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{slots: make(map[string]*slot), loader: loader, logger: logger}
}

func (s *Store) slot(boardID string) (*slot, bool) {
	s.mu.RLock()
	sl, ok := s.slots[boardID]
	s.mu.RUnlock()
	return sl, ok
}

// Get returns the current state of a board without creating it.
func (s *Store) Get(boardID string) (*domain.Board, bool) {
	sl, ok := s.slot(boardID)
	if !ok {
		return nil, false
	}
	return sl.state.Load(), true
}

// GetOrCreate returns the current state of a board, creating it on first
// reference. The loader is consulted before falling back to an empty board;
// loader failures are logged and never fail the call.
func (s *Store) GetOrCreate(ctx context.Context, boardID string) *domain.Board {
	if sl, ok := s.slot(boardID); ok {
		return sl.state.Load()
	}

	initial := domain.NewBoard(boardID)
	if s.loader != nil {
		b, ok, err := s.loader.LoadBoard(ctx, boardID)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("board", boardID).Warn("board snapshot load failed, starting empty")
		case ok:
			initial = b
			s.logger.WithFields(log.Fields{"board": boardID, "seq": b.Version, "notes": b.Len()}).Info("board hydrated from snapshot")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[boardID]; ok {
		return sl.state.Load()
	}
	s.slots[boardID] = newSlot(initial)
	return initial
}

// CompareAndSwap replaces the board state with next only if it is still
// expected. A false result means another mutation won and the caller should
// reload and retry.
func (s *Store) CompareAndSwap(boardID string, expected, next *domain.Board) bool {
	sl, ok := s.slot(boardID)
	if !ok || next == nil {
		return false
	}
	return sl.state.CompareAndSwap(expected, next)
}

// Deliver runs fn once every lower version of the board has been delivered,
// so effects leave in the same order their states were swapped in.
func (s *Store) Deliver(boardID string, version uint64, fn func()) {
	sl, ok := s.slot(boardID)
	if !ok {
		fn()
		return
	}
	sl.mu.Lock()
	for sl.delivered+1 < version {
		sl.cond.Wait()
	}
	sl.mu.Unlock()

	defer func() {
		sl.mu.Lock()
		if version > sl.delivered {
			sl.delivered = version
		}
		sl.cond.Broadcast()
		sl.mu.Unlock()
	}()
	fn()
}

// Attach calls fn with a board state whose effects have all been delivered,
// and holds off further deliveries on that board until fn returns. A session
// registered inside fn therefore sees every later effect exactly once and
// never one that is already part of the state it was given.
func (s *Store) Attach(ctx context.Context, boardID string, fn func(b *domain.Board)) {
	s.GetOrCreate(ctx, boardID)
	sl, _ := s.slot(boardID)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for {
		b := sl.state.Load()
		if b.Version <= sl.delivered {
			fn(b)
			return
		}
		sl.cond.Wait()
	}
}

// Boards returns the number of boards held in memory.
func (s *Store) Boards() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}
