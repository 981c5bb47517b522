package videocache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisBackend.
const DefaultRedisPrefix = "videocache:"

// RedisBackend stores each record as a hash and tracks ids in a set. Writes go through
// MULTI so the hash and the set never disagree.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBackend returns a backend using rdb. An empty prefix takes DefaultRedisPrefix.
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) recordKey(id string) string { return b.prefix + "rec:" + id }
func (b *RedisBackend) idsKey() string            { return b.prefix + "ids" }
func (b *RedisBackend) versionKey() string        { return b.prefix + "schema" }

var metaFields = []string{"id", "url", "size", "cached_at"}

func (b *RedisBackend) Stat(ctx context.Context, id string) (*Record, error) {
	vals, err := b.rdb.HMGet(ctx, b.recordKey(id), metaFields...).Result()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}
	return recordFromFields(vals)
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*Record, error) {
	vals, err := b.rdb.HMGet(ctx, b.recordKey(id), append(metaFields, "blob")...).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	rec, err := recordFromFields(vals[:len(metaFields)])
	if err != nil {
		return nil, err
	}
	if s, ok := vals[len(metaFields)].(string); ok {
		rec.Blob = []byte(s)
	}
	return rec, nil
}

func (b *RedisBackend) Put(ctx context.Context, rec *Record) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.recordKey(rec.ID), map[string]interface{}{
			"id":        rec.ID,
			"url":       rec.URL,
			"size":      rec.Size,
			"cached_at": rec.CachedAt.UnixNano(),
			"blob":      rec.Blob,
		})
		pipe.SAdd(ctx, b.idsKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.recordKey(id))
		pipe.SRem(ctx, b.idsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]Record, error) {
	ids, err := b.rdb.SMembers(ctx, b.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, b.recordKey(id), metaFields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	out := make([]Record, 0, len(ids))
	for _, cmd := range cmds {
		rec, err := recordFromFields(cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	ids, err := b.rdb.SMembers(ctx, b.idsKey()).Result()
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, b.recordKey(id))
	}
	keys = append(keys, b.idsKey())
	if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (b *RedisBackend) SchemaVersion(ctx context.Context) (int, error) {
	v, err := b.rdb.Get(ctx, b.versionKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (b *RedisBackend) SetSchemaVersion(ctx context.Context, v int) error {
	return b.rdb.Set(ctx, b.versionKey(), v, 0).Err()
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBackend) Close() error { return nil }

func recordFromFields(vals []interface{}) (*Record, error) {
	id, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	rec := &Record{ID: id}
	rec.URL, _ = vals[1].(string)
	if s, ok := vals[2].(string); ok {
		size, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode size of %s: %w", id, err)
		}
		rec.Size = size
	}
	if s, ok := vals[3].(string); ok {
		nanos, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode cached_at of %s: %w", id, err)
		}
		rec.CachedAt = time.Unix(0, nanos).UTC()
	}
	return rec, nil
}
