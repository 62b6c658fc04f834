package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"board-service/domain"
	"board-service/session"
)

const defaultReadLimit = 64 << 10

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// SessionRegistry is the part of the session registry the gateway drives.
type SessionRegistry interface {
	Register(conn session.Conn, boardID, userID string) (*session.Session, error)
	Unregister(s *session.Session) bool
}

// GatewayConfig tunes the WebSocket endpoint. A zero RateLimit disables
// per-session rate limiting.
type GatewayConfig struct {
	ReadLimit      int64
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

// Gateway upgrades authenticated clients to WebSocket sessions bound to a
// board and feeds their frames into the mutation pipeline.
type Gateway struct {
	auth     TokenVerifier
	store    BoardStore
	registry SessionRegistry
	router   Broadcaster
	pipeline *Pipeline
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewGateway(auth TokenVerifier, store BoardStore, registry SessionRegistry, router Broadcaster, pipeline *Pipeline, cfg GatewayConfig, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = int(cfg.RateLimit) + 1
	}
	g := &Gateway{
		auth:     auth,
		store:    store,
		registry: registry,
		router:   router,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Handle serves GET /ws?boardId=...&access_token=...
func (g *Gateway) Handle(c echo.Context) error {
	boardID := c.QueryParam("boardId")
	if boardID == "" {
		return c.String(http.StatusBadRequest, "missing boardId")
	}
	token, err := accessToken(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	userID, err := g.auth.VerifyToken(token)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		g.logger.WithError(err).WithField("board", boardID).Debug("websocket upgrade failed")
		return nil
	}

	// hijacked connection; frames already read are still applied
	ctx := context.WithoutCancel(c.Request().Context())
	s, err := g.join(ctx, conn, boardID, userID)
	if err != nil {
		g.logger.WithError(err).WithField("board", boardID).Warn("session join failed")
		_ = conn.Close()
		return nil
	}
	defer g.registry.Unregister(s)
	go s.WritePump()

	var limiter *rate.Limiter
	if g.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst)
	}
	err = s.ReadLoop(g.cfg.ReadLimit, func(msg []byte) {
		if limiter != nil && !limiter.Allow() {
			g.pipeline.replyError(s, "", domain.ErrRateLimited)
			return
		}
		_ = g.pipeline.HandleFrame(ctx, s, msg)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		s.Logger().WithError(err).Info("connection closed unexpectedly")
	}
	return nil
}

// join registers the connection and queues the current board state as its
// first message. Both happen while deliveries on the board are held, so the
// session sees each later effect exactly once.
func (g *Gateway) join(ctx context.Context, conn session.Conn, boardID, userID string) (*session.Session, error) {
	var (
		s   *session.Session
		err error
	)
	g.store.Attach(ctx, boardID, func(b *domain.Board) {
		s, err = g.registry.Register(conn, boardID, userID)
		if err != nil {
			return
		}
		var payload []byte
		payload, err = domain.EncodeBoardState(b)
		if err != nil {
			return
		}
		err = s.Send(payload)
	})
	if err != nil {
		if s != nil {
			g.registry.Unregister(s)
		}
		return nil, err
	}
	if s == nil {
		return nil, errors.New("session not registered")
	}
	return s, nil
}
