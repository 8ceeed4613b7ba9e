package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qepo_backend/internal/model"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisProfileCache_RoundTrip(t *testing.T) {
	client := setupRedis(t)
	c := NewProfileCache(client, time.Minute)
	ctx := context.Background()

	bio := "hello"
	p := &model.Profile{UserID: uuid.NewString(), Email: "a@b.com", Username: "alice", Bio: &bio}
	t.Cleanup(func() { client.Del(ctx, profileKey(p.UserID), versionKey(p.UserID)) })

	_, err := c.Get(ctx, p.UserID)
	assert.ErrorIs(t, err, ErrCacheMiss)

	v, err := c.Version(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, c.Fill(ctx, p, v))
	got, err := c.Get(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	require.NotNil(t, got.Bio)
	assert.Equal(t, "hello", *got.Bio)

	ttl := client.TTL(ctx, profileKey(p.UserID)).Val()
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl=%v", ttl)

	require.NoError(t, c.Invalidate(ctx, p.UserID))
	_, err = c.Get(ctx, p.UserID)
	assert.ErrorIs(t, err, ErrCacheMiss)

	v, err = c.Version(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

// A fill that read its row before an Invalidate must not store it.
func TestRedisProfileCache_FillAfterInvalidateIsDropped(t *testing.T) {
	client := setupRedis(t)
	c := NewProfileCache(client, time.Minute)
	ctx := context.Background()

	id := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, profileKey(id), versionKey(id)) })

	before, err := c.Version(ctx, id)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, id))

	require.NoError(t, c.Fill(ctx, &model.Profile{UserID: id, Username: "alice"}, before))
	_, err = c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCacheMiss)

	after, err := c.Version(ctx, id)
	require.NoError(t, err)
	require.NoError(t, c.Fill(ctx, &model.Profile{UserID: id, Username: "alice2"}, after))
	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)
}

func TestRedisProfileCache_CorruptEntryIsMiss(t *testing.T) {
	client := setupRedis(t)
	c := NewProfileCache(client, time.Minute)
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, client.Set(ctx, profileKey(id), "{not json", time.Minute).Err())
	t.Cleanup(func() { client.Del(ctx, profileKey(id)) })

	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNopProfileCache(t *testing.T) {
	var c ProfileCache = NopProfileCache{}
	require.NoError(t, c.Fill(context.Background(), &model.Profile{UserID: "x"}, 0))
	_, err := c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
