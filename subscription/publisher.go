package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
)

// PublisherConfig tunes the publish worker pool.
type PublisherConfig struct {
	Channel        string
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

// Publisher ships applied-mutation events to a Redis pub/sub channel off the
// mutation hot path. Events are dropped, with a warning, when the buffer stays
// saturated past the handoff timeout.
type Publisher struct {
	cfg    PublisherConfig
	rc     *redis.Client
	logger *log.Logger

	jobs     chan domain.Event
	stopOnce sync.Once
	closed   atomic.Bool
	workerWG sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher starts cfg.Workers goroutines publishing to cfg.Channel.
func NewPublisher(rc *redis.Client, cfg PublisherConfig, logger *log.Logger) *Publisher {
	if rc == nil {
		panic("redis client is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 64
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	p := &Publisher{
		cfg:    cfg,
		rc:     rc,
		logger: logger,
		jobs:   make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, channel: %s, workers: %d, buffer: %d", cfg.Channel, cfg.Workers, cfg.Buffer)
	return p
}

// Publish queues ev. It never blocks longer than the handoff timeout.
func (p *Publisher) Publish(ev domain.Event) bool {
	if p.closed.Load() {
		return false
	}
	ok, closed := trySendNonBlocking(p.jobs, ev)
	if closed {
		return false
	}
	if !ok && p.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(p.cfg.HandoffTimeout)
		ok, _ = sendWithTimer(p.jobs, ev, timer.C)
		timer.Stop()
	}
	if !ok {
		p.dropped.Add(1)
		p.logger.WithFields(log.Fields{"board": ev.BoardID, "seq": ev.Seq}).Warn("event buffer saturated; dropping event")
	}
	return ok
}

func (p *Publisher) worker(id int) {
	defer p.workerWG.Done()
	for ev := range p.jobs {
		data, err := domain.EncodeEvent(ev)
		if err != nil {
			p.logger.WithError(err).Errorf("encode event failed, board: %s, seq: %d", ev.BoardID, ev.Seq)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
		err = p.rc.Publish(ctx, p.cfg.Channel, data).Err()
		cancel()
		if err != nil {
			p.logger.WithError(err).Errorf("publish event failed, board: %s, seq: %d, worker: %d", ev.BoardID, ev.Seq, id)
			continue
		}
		p.published.Add(1)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.jobs)
	})
	p.workerWG.Wait()
}

// Stats returns the number of published and dropped events.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
