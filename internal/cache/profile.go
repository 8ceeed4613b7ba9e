package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qepo_backend/internal/model"
)

const (
	// ProfileCachePrefix is the key prefix for cached profiles
	ProfileCachePrefix = "profile:user:"
	// ProfileVersionPrefix keys the per-user invalidation counter.
	ProfileVersionPrefix = "profile:ver:"

	DefaultProfileTTL = 10 * time.Minute

	// versionTTL outlives any fill by a wide margin.
	versionTTL = 24 * time.Hour
)

// ErrCacheMiss is returned by Get when the profile is not cached.
var ErrCacheMiss = errors.New("cache miss")

// ProfileCache is a read-through cache for profiles keyed by user id. Writers
// invalidate; they never write through.
//
// Fills are versioned: a reader takes Version before loading the row and
// passes it to Fill, which stores nothing if an Invalidate happened in
// between. A row read before a write can never land after it.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
	Version(ctx context.Context, userID string) (int64, error)
	Fill(ctx context.Context, profile *model.Profile, version int64) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisProfileCache implements ProfileCache with one JSON string per profile.
type RedisProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProfileCache(client *redis.Client, ttl time.Duration) ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &RedisProfileCache{client: client, ttl: ttl}
}

func profileKey(userID string) string {
	return ProfileCachePrefix + userID
}

func versionKey(userID string) string {
	return ProfileVersionPrefix + userID
}

// fillScript sets KEYS[1] only while KEYS[2] still holds ARGV[2]. A missing
// counter reads as "0".
var fillScript = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if v == false then v = '0' end
if v ~= ARGV[2] then return 0 end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func (c *RedisProfileCache) Get(ctx context.Context, userID string) (*model.Profile, error) {
	raw, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached profile: %w", err)
	}

	var p model.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		// Unreadable entries are treated as absent and replaced on the next fill.
		return nil, ErrCacheMiss
	}
	return &p, nil
}

func (c *RedisProfileCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get profile cache version: %w", err)
	}
	return v, nil
}

func (c *RedisProfileCache) Fill(ctx context.Context, p *model.Profile, version int64) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	keys := []string{profileKey(p.UserID), versionKey(p.UserID)}
	if err := fillScript.Run(ctx, c.client, keys, raw, version, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("fill cached profile: %w", err)
	}
	return nil
}

// Invalidate drops the entry and bumps the version so in-flight fills are
// discarded.
func (c *RedisProfileCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, profileKey(userID))
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached profile: %w", err)
	}
	return nil
}

// NopProfileCache is used when Redis is not configured.
type NopProfileCache struct{}

func (NopProfileCache) Get(context.Context, string) (*model.Profile, error) { return nil, ErrCacheMiss }
func (NopProfileCache) Version(context.Context, string) (int64, error)      { return 0, nil }
func (NopProfileCache) Fill(context.Context, *model.Profile, int64) error   { return nil }
func (NopProfileCache) Invalidate(context.Context, string) error            { return nil }
