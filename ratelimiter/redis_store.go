package ratelimiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// updateScript performs the version-checked overwrite atomically on the
// Redis side. Returns the new version, -1 when the record is missing and
// -2 when the stored version no longer matches the caller's read.
var updateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local rec = cjson.decode(cur)
if tonumber(rec.version) ~= tonumber(ARGV[3]) then
  return -2
end
rec.tokens = tonumber(ARGV[1])
rec.last_refill = tonumber(ARGV[2])
rec.version = tonumber(rec.version) + 1
redis.call('SET', KEYS[1], cjson.encode(rec))
return rec.version
`)

// upsertScript writes a full-capacity record, continuing the version
// sequence of any existing record so in-flight conditional updates fail
// instead of clobbering the reset.
var upsertScript = redis.NewScript(`
local version = 1
local cur = redis.call('GET', KEYS[1])
if cur then
  version = tonumber(cjson.decode(cur).version) + 1
end
local cap = tonumber(ARGV[1])
local rec = {owner_id=ARGV[3], tokens=cap, capacity=cap, last_refill=tonumber(ARGV[2]), version=version}
redis.call('SET', KEYS[1], cjson.encode(rec))
return version
`)

// redisRecord is the wire layout of a bucket record in Redis. Timestamps
// are Unix milliseconds so the Lua scripts can treat them as numbers.
type redisRecord struct {
	OwnerID    string `json:"owner_id"`
	Tokens     int    `json:"tokens"`
	Capacity   int    `json:"capacity"`
	LastRefill int64  `json:"last_refill"`
	Version    int64  `json:"version"`
}

// RedisStore implements Store on a shared Redis instance so independent
// stateless instances agree on a single global quota per owner.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix overrides the key prefix (default "ratelimit:bucket:").
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) {
		if prefix != "" {
			rs.keyPrefix = prefix
		}
	}
}

// NewRedisStore creates a Redis-backed store using an established client.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}

	rs := &RedisStore{
		client:    client,
		keyPrefix: "ratelimit:bucket:",
	}

	for _, opt := range opts {
		opt(rs)
	}

	return rs, nil
}

func (rs *RedisStore) key(ownerID string) string {
	return rs.keyPrefix + ownerID
}

// GetByOwner returns the owner's record or ErrRecordNotFound.
func (rs *RedisStore) GetByOwner(ctx context.Context, ownerID string) (Record, error) {
	payload, err := rs.client.Get(ctx, rs.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("redis get: %w", err)
	}

	var rr redisRecord
	if err := json.Unmarshal(payload, &rr); err != nil {
		return Record{}, fmt.Errorf("redis record decode: %w", err)
	}

	return Record{
		OwnerID:    rr.OwnerID,
		Tokens:     rr.Tokens,
		Capacity:   rr.Capacity,
		LastRefill: time.UnixMilli(rr.LastRefill),
		Version:    rr.Version,
	}, nil
}

// Insert persists a new record via SET NX; a concurrent first-request that
// won the create race surfaces as ErrRecordConflict.
func (rs *RedisStore) Insert(ctx context.Context, rec Record) (Record, error) {
	rec.Version = 1

	payload, err := json.Marshal(redisRecord{
		OwnerID:    rec.OwnerID,
		Tokens:     rec.Tokens,
		Capacity:   rec.Capacity,
		LastRefill: rec.LastRefill.UnixMilli(),
		Version:    rec.Version,
	})
	if err != nil {
		return Record{}, fmt.Errorf("redis record encode: %w", err)
	}

	ok, err := rs.client.SetNX(ctx, rs.key(rec.OwnerID), payload, 0).Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return Record{}, ErrRecordConflict
	}

	return rec, nil
}

// Update applies the version-conditional overwrite through a server-side
// Lua script, keeping the read-check-write atomic within Redis.
func (rs *RedisStore) Update(ctx context.Context, ownerID string, tokens int, lastRefill time.Time, expectedVersion int64) error {
	res, err := updateScript.Run(ctx, rs.client, []string{rs.key(ownerID)},
		tokens, lastRefill.UnixMilli(), expectedVersion).Int64()
	if err != nil {
		return fmt.Errorf("redis update script: %w", err)
	}

	switch res {
	case -1:
		return ErrRecordNotFound
	case -2:
		return ErrRecordConflict
	default:
		return nil
	}
}

// UpsertFull creates or overwrites the owner's record at full capacity.
func (rs *RedisStore) UpsertFull(ctx context.Context, ownerID string, capacity int, now time.Time) (Record, error) {
	version, err := upsertScript.Run(ctx, rs.client, []string{rs.key(ownerID)},
		capacity, now.UnixMilli(), ownerID).Int64()
	if err != nil {
		return Record{}, fmt.Errorf("redis upsert script: %w", err)
	}

	return Record{
		OwnerID:    ownerID,
		Tokens:     capacity,
		Capacity:   capacity,
		LastRefill: now,
		Version:    version,
	}, nil
}

// Healthcheck verifies Redis connectivity with a ping.
func (rs *RedisStore) Healthcheck(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis healthcheck: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
