package broadcast

import (
	log "github.com/sirupsen/logrus"

	"board-service/session"
)

// Registry is the part of the session registry the router depends on.
type Registry interface {
	SessionsForBoard(boardID string) []*session.Session
	Unregister(s *session.Session) bool
}

// Router fans messages out to the sessions bound to a board.
type Router struct {
	registry Registry
	logger   *log.Logger
}

func NewRouter(registry Registry, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Router{registry: registry, logger: logger}
}

// Broadcast delivers msg to every session on boardID except exclude, which
// may be nil. Delivery is best effort: a recipient that cannot accept the
// message is unregistered and the others still receive it. It returns the
// number of sessions the message was handed to.
func (r *Router) Broadcast(boardID string, msg []byte, exclude *session.Session) int {
	delivered := 0
	for _, s := range r.registry.SessionsForBoard(boardID) {
		if s == exclude {
			continue
		}
		if err := s.Send(msg); err != nil {
			s.Logger().WithError(err).Warn("dropping unreachable session")
			r.registry.Unregister(s)
			continue
		}
		delivered++
	}
	r.logger.WithFields(log.Fields{"board": boardID, "recipients": delivered}).Debug("broadcast")
	return delivered
}

// Reply sends msg to a single session, unregistering it on failure.
func (r *Router) Reply(s *session.Session, msg []byte) error {
	if err := s.Send(msg); err != nil {
		s.Logger().WithError(err).Warn("dropping unreachable session")
		r.registry.Unregister(s)
		return err
	}
	return nil
}
