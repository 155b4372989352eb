package memorystore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vynpt/scitokens/keycache"
)

func entry(issuer, keyID, data string) *keycache.Entry {
	now := time.Now()
	return &keycache.Entry{
		Issuer:     issuer,
		KeyID:      keyID,
		KeyData:    data,
		CacheTimer: time.Minute,
		FetchedAt:  now,
		NextUpdate: now.Add(time.Minute),
	}
}

func TestKeyStorePutGet(t *testing.T) {
	s := NewKeyStore()
	ctx := context.Background()

	got, err := s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Put(ctx, entry("https://example.org", "kid", "pem-one")))

	got, err = s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	require.Equal(t, "pem-one", got.KeyData)
}

func TestKeyStoreReturnsCopies(t *testing.T) {
	s := NewKeyStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entry("https://example.org", "kid", "pem-one")))

	got, err := s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	got.KeyData = "mutated"

	again, err := s.Get(ctx, "https://example.org", "kid")
	require.NoError(t, err)
	require.Equal(t, "pem-one", again.KeyData)
}

func TestKeyStoreList(t *testing.T) {
	s := NewKeyStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, entry("https://a.example.org", "k1", "pem-a")))
	require.NoError(t, s.Put(ctx, entry("https://b.example.org", "k2", "pem-b")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestKeyStoreConcurrent(t *testing.T) {
	s := NewKeyStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Put(ctx, entry("https://example.org", "kid", "pem"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Get(ctx, "https://example.org", "kid")
			}
		}()
	}
	wg.Wait()
}
