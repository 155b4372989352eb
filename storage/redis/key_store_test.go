package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vynpt/scitokens/keycache"
)

// Tests require a running Redis; set REDIS_ADDR (e.g. localhost:6379).
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKeyStoreRoundTrip(t *testing.T) {
	rdb := testClient(t)
	s := NewKeyStore(rdb, "scitokens:test:"+t.Name()+":")
	ctx := context.Background()

	got, err := s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	require.Nil(t, got)

	now := time.Unix(time.Now().Unix(), 0)
	entry := &keycache.Entry{
		Issuer:     "https://example.org",
		KeyID:      "kid",
		KeyData:    "pem-one",
		CacheTimer: time.Minute,
		FetchedAt:  now,
		NextUpdate: now.Add(time.Minute),
	}
	require.NoError(t, s.Put(ctx, entry))

	got, err = s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	require.Equal(t, "pem-one", got.KeyData)
	require.True(t, got.NextUpdate.Equal(entry.NextUpdate))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
