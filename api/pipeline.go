package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
	"board-service/session"
)

const defaultMaxRetries = 16

// BoardStore is the board state store as seen by the api package.
type BoardStore interface {
	Get(boardID string) (*domain.Board, bool)
	GetOrCreate(ctx context.Context, boardID string) *domain.Board
	CompareAndSwap(boardID string, expected, next *domain.Board) bool
	Deliver(boardID string, version uint64, fn func())
	Attach(ctx context.Context, boardID string, fn func(b *domain.Board))
}

// Broadcaster fans encoded messages out to sessions.
type Broadcaster interface {
	Broadcast(boardID string, msg []byte, exclude *session.Session) int
	Reply(s *session.Session, msg []byte) error
}

// EventPublisher hands applied mutations to the board event stream.
type EventPublisher interface {
	Publish(ev domain.Event) bool
}

// Pipeline applies client mutations to board state and routes the effects.
type Pipeline struct {
	store      BoardStore
	router     Broadcaster
	events     EventPublisher
	logger     *log.Logger
	maxRetries int
}

// NewPipeline wires the mutation pipeline. events may be nil.
func NewPipeline(store BoardStore, router Broadcaster, events EventPublisher, logger *log.Logger, maxRetries int) *Pipeline {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Pipeline{store: store, router: router, events: events, logger: logger, maxRetries: maxRetries}
}

// HandleFrame processes one inbound frame from s. Failures are answered with
// an ERROR message to s alone; nothing is broadcast and board state is left
// unchanged.
func (p *Pipeline) HandleFrame(ctx context.Context, s *session.Session, raw []byte) error {
	metrics, ctx := newMutationMetrics(ctx, p.logger, s.BoardID, s.ID)

	m, err := domain.ParseMutation(raw)
	if err != nil {
		metrics.SetErrorStage("parse")
		p.replyError(s, "", err)
		metrics.End(err)
		return err
	}
	metrics.SetType(m.Type)

	seq, err := p.apply(ctx, metrics, s.BoardID, s.UserID, m)
	metrics.SetSeq(seq)
	if err != nil {
		p.replyError(s, m.NoteID, err)
	}
	metrics.End(err)
	return err
}

// applyMutation commits m to boardID and broadcasts the resulting effects to
// every session on the board. It returns the board version m produced.
func (p *Pipeline) applyMutation(ctx context.Context, boardID, userID string, m domain.Mutation) (uint64, error) {
	metrics, ctx := newMutationMetrics(ctx, p.logger, boardID, "")
	metrics.SetType(m.Type)
	seq, err := p.apply(ctx, metrics, boardID, userID, m)
	metrics.SetSeq(seq)
	metrics.End(err)
	return seq, err
}

func (p *Pipeline) apply(ctx context.Context, metrics *mutationMetrics, boardID, userID string, m domain.Mutation) (uint64, error) {
	next, effects, err := p.commit(ctx, metrics, boardID, m)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	recipients := 0
	p.store.Deliver(boardID, next.Version, func() {
		for _, effect := range effects {
			payload, err := domain.EncodeMessage(effect)
			if err != nil {
				p.logger.WithError(err).WithField("board", boardID).Error("encode effect")
				continue
			}
			recipients += p.router.Broadcast(boardID, payload, nil)
		}
		p.publish(boardID, userID, m, next)
	})
	metrics.ObserveDeliver(time.Since(start), recipients)
	return next.Version, nil
}

// commit runs load, reduce and compare-and-swap until the swap wins or the
// retry budget is spent.
func (p *Pipeline) commit(ctx context.Context, metrics *mutationMetrics, boardID string, m domain.Mutation) (*domain.Board, []domain.Message, error) {
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.SetErrorStage("context")
			return nil, nil, err
		}
		start := time.Now()
		cur := p.store.GetOrCreate(ctx, boardID)
		next, effects, err := domain.Reduce(cur, m)
		metrics.ObserveAttempt(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("reduce")
			return nil, nil, err
		}
		if p.store.CompareAndSwap(boardID, cur, next) {
			return next, effects, nil
		}
	}
	metrics.SetErrorStage("swap")
	return nil, nil, fmt.Errorf("%w: board %s after %d attempts", domain.ErrStateConflict, boardID, p.maxRetries)
}

func (p *Pipeline) publish(boardID, userID string, m domain.Mutation, b *domain.Board) {
	if p.events == nil {
		return
	}
	note, _ := b.Note(m.NoteID)
	ev := domain.Event{
		ID:      uuid.NewString(),
		BoardID: boardID,
		UserID:  userID,
		Type:    m.Type,
		Seq:     b.Version,
		Note:    note,
		Time:    time.Now().UnixMilli(),
	}
	if !p.events.Publish(ev) {
		p.logger.WithFields(log.Fields{"board": boardID, "seq": b.Version}).Debug("board event not published")
	}
}

func (p *Pipeline) replyError(s *session.Session, noteID string, err error) {
	payload, encErr := domain.EncodeMessage(domain.ErrorMessage(noteID, err))
	if encErr != nil {
		s.Logger().WithError(encErr).Error("encode error reply")
		return
	}
	if replyErr := p.router.Reply(s, payload); replyErr != nil && !errors.Is(replyErr, domain.ErrTransportFailure) {
		s.Logger().WithError(replyErr).Warn("error reply failed")
	}
}
