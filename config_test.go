package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REDIS_CONNECTION_STRING", "redis://localhost:6379/0")
	t.Setenv("LOCAL_AUTH_MODE", "hs256")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.EventsChannel != "board-events" || cfg.MaxRetries != 16 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SnapshotTTL != 24*time.Hour || cfg.PongWait != time.Minute || cfg.RateLimit != 50 {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %s", cfg.Redis.Addr)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("REDIS_CONNECTION_STRING", "localhost:6379")
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("LISTEN_PORT", "9001")
	t.Setenv("WS_RATE_LIMIT", "0")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MUTATION_MAX_RETRIES", "4")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9001" || cfg.RateLimit != 0 || cfg.MaxRetries != 4 {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing redis": {},
		"missing auth0": {"REDIS_CONNECTION_STRING": "localhost:6379"},
		"bad retries":   {"REDIS_CONNECTION_STRING": "localhost:6379", "LOCAL_AUTH_MODE": "hs256", "MUTATION_MAX_RETRIES": "0"},
		"bad ttl":       {"REDIS_CONNECTION_STRING": "localhost:6379", "LOCAL_AUTH_MODE": "hs256", "SNAPSHOT_TTL": "soon"},
		"bad rate":      {"REDIS_CONNECTION_STRING": "localhost:6379", "LOCAL_AUTH_MODE": "hs256", "WS_RATE_LIMIT": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"REDIS_CONNECTION_STRING", "LOCAL_AUTH_MODE", "AUTH0_TEST_MODE", "AUTH0_DOMAIN", "AUTH0_AUDIENCE"} {
				t.Setenv(key, "")
			}
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRedisOptionsConnectionStringForm(t *testing.T) {
	opts := redisOptions("cache.example:6380,password=secret,ssl=True,abortConnect=false")
	if opts.Addr != "cache.example:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts := redisOptions("cache.example:6379"); opts.TLSConfig != nil || opts.Password != "" {
		t.Fatalf("unexpected options %+v", opts)
	}
}
