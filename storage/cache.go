package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-service/domain"
)

// saveNoteScript writes a note only if its sequence is newer than the one
// already stored, so events projected out of order never roll a note back.
var saveNoteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local v = tonumber(redis.call('GET', KEYS[3]) or '0')
if tonumber(ARGV[2]) > v then
  redis.call('SET', KEYS[3], ARGV[2])
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
  redis.call('PEXPIRE', KEYS[3], ttl)
end
return 1
`)

// SnapshotCache keeps a best-effort projection of each board in Redis. It is
// fed from the board event stream and read when a board is first referenced.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotCache creates a cache using the provided client. A zero ttl keeps
// snapshots until they are evicted by Redis.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if client == nil {
		panic("storage.NewSnapshotCache: redis client is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotCache{redis: client, ttl: ttl}
}

// SaveEvent projects an applied mutation into the board snapshot. It reports
// whether the event was newer than what was stored.
func (c *SnapshotCache) SaveEvent(ctx context.Context, ev domain.Event) (bool, error) {
	if ev.BoardID == "" || ev.Note.ID == "" {
		return false, errors.New("event without board or note id")
	}
	data, err := sonic.ConfigStd.Marshal(ev.Note)
	if err != nil {
		return false, err
	}
	keys := []string{notesKey(ev.BoardID), seqKey(ev.BoardID), versionKey(ev.BoardID)}
	res, err := saveNoteScript.Run(ctx, c.redis, keys,
		ev.Note.ID, ev.Seq, string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// LoadBoard implements Loader.
func (c *SnapshotCache) LoadBoard(ctx context.Context, boardID string) (*domain.Board, bool, error) {
	raw, err := c.redis.HGetAll(ctx, notesKey(boardID)).Result()
	if err != nil {
		return nil, false, err
	}
	version, err := c.redis.Get(ctx, versionKey(boardID)).Result()
	if err != nil && err != redis.Nil {
		return nil, false, err
	}
	if len(raw) == 0 && version == "" {
		return nil, false, nil
	}

	b := domain.NewBoard(boardID)
	if version != "" {
		v, err := strconv.ParseUint(version, 10, 64)
		if err != nil {
			_ = c.Evict(ctx, boardID)
			return nil, false, err
		}
		b.Version = v
	}
	for id, data := range raw {
		var n domain.Note
		if err := sonic.ConfigStd.UnmarshalFromString(data, &n); err != nil {
			_ = c.Evict(ctx, boardID)
			return nil, false, err
		}
		n.ID = id
		b.Notes[id] = n
	}
	return b, true, nil
}

func (c *SnapshotCache) Evict(ctx context.Context, boardID string) error {
	return c.redis.Del(ctx, notesKey(boardID), seqKey(boardID), versionKey(boardID)).Err()
}

func notesKey(boardID string) string {
	return "board:{" + boardID + "}:notes"
}

func seqKey(boardID string) string {
	return "board:{" + boardID + "}:seq"
}

func versionKey(boardID string) string {
	return "board:{" + boardID + "}:version"
}
