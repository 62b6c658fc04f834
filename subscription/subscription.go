package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
)

// Handler consumes one board event.
type Handler func(ctx context.Context, ev domain.Event) error

// SubscribeEvents listens on the board event channel and hands every decoded
// event to handle until ctx is cancelled. A closed pub/sub channel is
// reopened after reconnectDelay.
func SubscribeEvents(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	reconnectDelay time.Duration,
	handle Handler,
) {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				ev, err := domain.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					logger.Errorf("unable to parse board event: %v", err)
					continue
				}
				if err := handle(ctx, ev); err != nil {
					logger.WithError(err).WithFields(log.Fields{"board": ev.BoardID, "seq": ev.Seq}).Error("board event handler failed")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
