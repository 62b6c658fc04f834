package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type config struct {
	ListenAddr string
	Redis      *redis.Options

	Auth0Domain   string
	Auth0Audience string
	LocalAuth     bool

	EventsChannel       string
	SnapshotTTL         time.Duration
	EventWorkers        int
	EventBuffer         int
	EventPublishTimeout time.Duration

	SendQueue      int
	WriteWait      time.Duration
	PongWait       time.Duration
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	MaxRetries int
}

func loadConfig() (config, error) {
	var cfg config
	var err error

	cfg.ListenAddr = ":" + envString("LISTEN_PORT", "8080")

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		return cfg, fmt.Errorf("missing redis config")
	}
	cfg.Redis = redisOptions(redisConn)

	cfg.LocalAuth = os.Getenv("LOCAL_AUTH_MODE") != "" || os.Getenv("AUTH0_TEST_MODE") == "1"
	if !cfg.LocalAuth {
		cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
		cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return cfg, fmt.Errorf("missing Auth0 config")
		}
	}

	cfg.EventsChannel = envString("BOARD_EVENTS_CHANNEL", "board-events")
	if cfg.SnapshotTTL, err = envDur("SNAPSHOT_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.EventWorkers, err = envInt("EVENT_WORKERS", 4); err != nil {
		return cfg, err
	}
	if cfg.EventBuffer, err = envInt("EVENT_BUFFER", 1024); err != nil {
		return cfg, err
	}
	if cfg.EventPublishTimeout, err = envDur("EVENT_PUBLISH_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SendQueue, err = envInt("WS_SEND_QUEUE", 64); err != nil {
		return cfg, err
	}
	if cfg.WriteWait, err = envDur("WS_WRITE_WAIT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PongWait, err = envDur("WS_PONG_WAIT", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = envFloat("WS_RATE_LIMIT", 50); err != nil {
		return cfg, err
	}
	if cfg.RateBurst, err = envInt("WS_RATE_BURST", 100); err != nil {
		return cfg, err
	}
	if v := os.Getenv("WS_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if cfg.MaxRetries, err = envInt("MUTATION_MAX_RETRIES", 16); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=true"
// connection string form.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

// envFloat allows zero, which disables the setting it controls.
func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return f, nil
}
