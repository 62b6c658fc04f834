package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"board-service/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return m, rc
}

func TestSnapshotCacheSaveAndLoad(t *testing.T) {
	_, rc := setupRedis(t)
	c := NewSnapshotCache(rc, 0)
	ctx := context.Background()

	events := []domain.Event{
		{BoardID: "b1", Seq: 1, Note: domain.Note{ID: "n1", Content: "hello", Color: domain.DefaultColor, Order: 1}},
		{BoardID: "b1", Seq: 2, Note: domain.Note{ID: "n2", Content: "world", Color: domain.DefaultColor, Order: 2}},
		{BoardID: "b1", Seq: 3, Note: domain.Note{ID: "n1", Content: "hello", Color: "#ff0000", Order: 1}},
	}
	for _, ev := range events {
		ok, err := c.SaveEvent(ctx, ev)
		if err != nil || !ok {
			t.Fatalf("save seq %d: ok=%v err=%v", ev.Seq, ok, err)
		}
	}

	b, ok, err := c.LoadBoard(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if b.Version != 3 || b.Len() != 2 {
		t.Fatalf("unexpected board %+v", b)
	}
	if n := b.Notes["n1"]; n.Color != "#ff0000" || n.Content != "hello" {
		t.Fatalf("unexpected note %+v", n)
	}
}

func TestSnapshotCacheIgnoresStaleEvents(t *testing.T) {
	_, rc := setupRedis(t)
	c := NewSnapshotCache(rc, 0)
	ctx := context.Background()

	newer := domain.Event{BoardID: "b1", Seq: 5, Note: domain.Note{ID: "n1", Content: "new"}}
	older := domain.Event{BoardID: "b1", Seq: 4, Note: domain.Note{ID: "n1", Content: "old"}}
	if ok, err := c.SaveEvent(ctx, newer); err != nil || !ok {
		t.Fatalf("save newer: ok=%v err=%v", ok, err)
	}
	ok, err := c.SaveEvent(ctx, older)
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	if ok {
		t.Fatal("expected stale event to be skipped")
	}
	b, _, _ := c.LoadBoard(ctx, "b1")
	if b.Notes["n1"].Content != "new" || b.Version != 5 {
		t.Fatalf("stale event overwrote snapshot: %+v", b)
	}
}

func TestSnapshotCacheMiss(t *testing.T) {
	_, rc := setupRedis(t)
	c := NewSnapshotCache(rc, 0)
	b, ok, err := c.LoadBoard(context.Background(), "nope")
	if err != nil || ok || b != nil {
		t.Fatalf("expected miss, got %+v ok=%v err=%v", b, ok, err)
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	m, rc := setupRedis(t)
	c := NewSnapshotCache(rc, time.Minute)
	ctx := context.Background()
	if _, err := c.SaveEvent(ctx, domain.Event{BoardID: "b1", Seq: 1, Note: domain.Note{ID: "n1"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := m.TTL(notesKey("b1")); ttl != time.Minute {
		t.Fatalf("expected ttl %v, got %v", time.Minute, ttl)
	}
	m.FastForward(2 * time.Minute)
	if _, ok, _ := c.LoadBoard(ctx, "b1"); ok {
		t.Fatal("expected snapshot to expire")
	}
}

func TestSnapshotCacheCorruptEntryEvicted(t *testing.T) {
	m, rc := setupRedis(t)
	c := NewSnapshotCache(rc, 0)
	m.HSet(notesKey("b1"), "n1", "{not json")
	if _, _, err := c.LoadBoard(context.Background(), "b1"); err == nil {
		t.Fatal("expected decode error")
	}
	if m.Exists(notesKey("b1")) {
		t.Fatal("expected corrupt snapshot to be evicted")
	}
}

func TestStoreHydratesFromSnapshotCache(t *testing.T) {
	_, rc := setupRedis(t)
	c := NewSnapshotCache(rc, 0)
	ctx := context.Background()
	if _, err := c.SaveEvent(ctx, domain.Event{BoardID: "b1", Seq: 9, Note: domain.Note{ID: "n1", Content: "kept", Order: 1}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s := New(c, nil)
	b := s.GetOrCreate(ctx, "b1")
	if b.Version != 9 || b.Notes["n1"].Content != "kept" {
		t.Fatalf("unexpected board %+v", b)
	}
}
