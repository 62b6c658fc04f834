package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-service/domain"
)

// Authenticator resolves bearer headers and raw tokens to user ids.
type Authenticator interface {
	TokenVerifier
	UserIDFromAuthHeader(string) (string, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats exposes live session counts.
type Stats interface {
	Count() int
	BoardCount(boardID string) int
}

// Deps carries everything Register wires into routes.
type Deps struct {
	Store    BoardStore
	Boards   func() int
	Sessions Stats
	Auth     Authenticator
	Gateway  *Gateway
	Redis    Pinger
	Logger   *log.Logger
}

type boardResponse struct {
	BoardID  string        `json:"boardId"`
	Seq      uint64        `json:"seq"`
	Sessions int           `json:"sessions"`
	Notes    []domain.Note `json:"notes"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Boards   int    `json:"boards"`
	Redis    string `json:"redis,omitempty"`
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	// browser clients dial the bare host as well as /ws
	e.GET("/", d.Gateway.Handle)
	e.GET("/ws", d.Gateway.Handle)
	e.GET("/api/boards/:boardId", getBoard(d.Store, d.Sessions, d.Auth))
	e.GET("/healthz", healthz(d))
}

func getBoard(store BoardStore, sessions Stats, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		b, ok := store.Get(boardID)
		if !ok {
			return c.String(http.StatusNotFound, "board not found")
		}
		resp := boardResponse{BoardID: b.ID, Seq: b.Version, Notes: b.Sorted()}
		if sessions != nil {
			resp.Sessions = sessions.BoardCount(boardID)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func healthz(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := healthResponse{Status: "ok"}
		if d.Sessions != nil {
			resp.Sessions = d.Sessions.Count()
		}
		if d.Boards != nil {
			resp.Boards = d.Boards()
		}
		status := http.StatusOK
		if d.Redis != nil {
			if err := d.Redis.Ping(c.Request().Context()); err != nil {
				if d.Logger != nil {
					d.Logger.WithError(err).Warn("redis health check failed")
				}
				resp.Status = "degraded"
				resp.Redis = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				resp.Redis = "ok"
			}
		}
		return c.JSON(status, resp)
	}
}
