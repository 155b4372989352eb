package keycache

import (
	"context"
	"time"

	"github.com/vynpt/scitokens/keys"
)

// Entry is one cached issuer key: the PEM-encoded material plus the
// freshness bookkeeping that schedules re-validation. NextUpdate is the sole
// staleness trigger; it is advanced on every successful refresh and may be
// set explicitly (including to the past) to force a refresh attempt.
type Entry struct {
	Issuer     string        `json:"issuer"`
	KeyID      string        `json:"key_id"`
	KeyData    string        `json:"key_data"`
	CacheTimer time.Duration `json:"cache_timer"`
	FetchedAt  time.Time     `json:"fetched_at"`
	NextUpdate time.Time     `json:"next_update"`
}

// PublicKey decodes the stored key material.
func (e *Entry) PublicKey() (keys.PublicKey, error) {
	return keys.DecodePEM(e.KeyData)
}

// Store persists cache entries keyed by (issuer, key id). Implementations
// must write whole entries atomically: a concurrent Get never observes a
// partially written entry, and concurrent Puts resolve last-writer-wins.
// Entries are never evicted by the store itself.
type Store interface {
	// Get returns the entry for (issuer, keyID), or nil when absent.
	Get(ctx context.Context, issuer, keyID string) (*Entry, error)
	// Put inserts or overwrites the entry for (entry.Issuer, entry.KeyID).
	Put(ctx context.Context, entry *Entry) error
	// List returns all entries, for scheduled re-validation sweeps.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}
