package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-service/api"
	"board-service/broadcast"
	"board-service/domain"
	"board-service/session"
	"board-service/storage"
	"board-service/subscription"
)

type redisPinger struct{ rc *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rc.Ping(ctx).Err() }

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.StandardLogger()

	var auth *api.Auth
	if cfg.LocalAuth {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	rc := redis.NewClient(cfg.Redis)
	cache := storage.NewSnapshotCache(rc, cfg.SnapshotTTL)
	store := storage.New(cache, logger)
	registry := session.NewRegistry(session.Options{
		SendQueue: cfg.SendQueue,
		WriteWait: cfg.WriteWait,
		PongWait:  cfg.PongWait,
	}, logger)
	router := broadcast.NewRouter(registry, logger)
	publisher := subscription.NewPublisher(rc, subscription.PublisherConfig{
		Channel:        cfg.EventsChannel,
		Workers:        cfg.EventWorkers,
		Buffer:         cfg.EventBuffer,
		PublishTimeout: cfg.EventPublishTimeout,
		HandoffTimeout: 50 * time.Millisecond,
	}, logger)
	pipeline := api.NewPipeline(store, router, publisher, logger, cfg.MaxRetries)
	gateway := api.NewGateway(auth, store, registry, router, pipeline, api.GatewayConfig{
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go subscription.SubscribeEvents(ctx, logger, rc, cfg.EventsChannel, time.Second, func(ctx context.Context, ev domain.Event) error {
		_, err := cache.SaveEvent(ctx, ev)
		return err
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, api.Deps{
		Store:    store,
		Boards:   store.Boards,
		Sessions: registry,
		Auth:     auth,
		Gateway:  gateway,
		Redis:    redisPinger{rc},
		Logger:   logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	registry.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	publisher.Close()
	published, dropped := publisher.Stats()
	logger.WithFields(log.Fields{"published": published, "dropped": dropped}).Info("event publisher stopped")
	if err := rc.Close(); err != nil {
		logger.WithError(err).Error("redis close")
	}
}
