// Package memorystore provides an in-memory keycache.Store, useful for tests
// and short-lived processes that do not need the cache to survive restarts.
package memorystore

import (
	"context"
	"sync"

	"github.com/vynpt/scitokens/keycache"
)

// KeyStore is an in-memory implementation of keycache.Store.
type KeyStore struct {
	mu   sync.RWMutex
	data map[storeKey]keycache.Entry
}

type storeKey struct {
	issuer string
	keyID  string
}

// NewKeyStore creates an empty in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{data: make(map[storeKey]keycache.Entry)}
}

func (s *KeyStore) Get(ctx context.Context, issuer, keyID string) (*keycache.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[storeKey{issuer, keyID}]
	if !ok {
		return nil, nil
	}
	// Copy so callers never share the stored value.
	out := e
	return &out, nil
}

func (s *KeyStore) Put(ctx context.Context, entry *keycache.Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[storeKey{entry.Issuer, entry.KeyID}] = *entry
	return nil
}

func (s *KeyStore) List(ctx context.Context) ([]keycache.Entry, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]keycache.Entry, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e)
	}
	return out, nil
}

func (s *KeyStore) Close() error { return nil }
