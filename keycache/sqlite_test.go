package keycache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testEntry(issuer, keyID, keyData string, timer time.Duration) *Entry {
	now := time.Unix(time.Now().Unix(), 0)
	return &Entry{
		Issuer:     issuer,
		KeyID:      keyID,
		KeyData:    keyData,
		CacheTimer: timer,
		FetchedAt:  now,
		NextUpdate: now.Add(timer),
	}
}

func TestSQLiteStoreGetAbsent(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "keycache.sqlite"))
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.Get(context.Background(), "https://example.org", "kid")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestSQLiteStorePutGetOverwrite(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "keycache.sqlite"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	first := testEntry("https://example.org", "kid-1", "pem-one", time.Minute)
	require.NoError(t, store.Put(ctx, first))

	got, err := store.Get(ctx, "https://example.org", "kid-1")
	require.NoError(t, err)
	require.Equal(t, first, got)

	// Overwrite is whole-entry, last writer wins.
	second := testEntry("https://example.org", "kid-1", "pem-two", time.Hour)
	require.NoError(t, store.Put(ctx, second))

	got, err = store.Get(ctx, "https://example.org", "kid-1")
	require.NoError(t, err)
	require.Equal(t, "pem-two", got.KeyData)
	require.Equal(t, time.Hour, got.CacheTimer)
}

func TestSQLiteStoreDistinctPairs(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "keycache.sqlite"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testEntry("https://a.example.org", "kid", "pem-a", time.Minute)))
	require.NoError(t, store.Put(ctx, testEntry("https://b.example.org", "kid", "pem-b", time.Minute)))
	require.NoError(t, store.Put(ctx, testEntry("https://a.example.org", "kid2", "pem-a2", time.Minute)))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got, err := store.Get(ctx, "https://b.example.org", "kid")
	require.NoError(t, err)
	require.Equal(t, "pem-b", got.KeyData)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycache.sqlite")
	ctx := context.Background()

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	entry := testEntry("https://example.org", "kid-1", "pem-one", time.Minute)
	require.NoError(t, store.Put(ctx, entry))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "https://example.org", "kid-1")
	require.NoError(t, err)
	require.Equal(t, entry, got)
}
