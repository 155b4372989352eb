// Package redisstore provides a Redis-backed keycache.Store for deployments
// where many verifier processes share one key cache.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vynpt/scitokens/keycache"
)

// KeyStore is a Redis implementation of keycache.Store. Entries are stored
// as JSON under <prefix><issuer>|<keyID> with no TTL: staleness is tracked
// by the entry's next_update, never by Redis expiry.
type KeyStore struct {
	rdb   *redis.Client
	keyNS string
}

// NewKeyStore wraps an existing Redis client. The client remains owned by
// the caller; Close does not release it.
func NewKeyStore(rdb *redis.Client, keyPrefix string) *KeyStore {
	if keyPrefix == "" {
		keyPrefix = "scitokens:keycache:"
	}
	return &KeyStore{rdb: rdb, keyNS: keyPrefix}
}

func (s *KeyStore) key(issuer, keyID string) string {
	return s.keyNS + issuer + "|" + keyID
}

func (s *KeyStore) Get(ctx context.Context, issuer, keyID string) (*keycache.Entry, error) {
	val, err := s.rdb.Get(ctx, s.key(issuer, keyID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis key cache get: %w", err)
	}
	var e keycache.Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("redis key cache decode: %w", err)
	}
	return &e, nil
}

func (s *KeyStore) Put(ctx context.Context, entry *keycache.Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// SET is a whole-value replacement, so readers never see a torn entry.
	if err := s.rdb.Set(ctx, s.key(entry.Issuer, entry.KeyID), b, 0).Err(); err != nil {
		return fmt.Errorf("redis key cache put: %w", err)
	}
	return nil
}

func (s *KeyStore) List(ctx context.Context) ([]keycache.Entry, error) {
	var entries []keycache.Entry
	iter := s.rdb.Scan(ctx, 0, s.keyNS+"*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis key cache list: %w", err)
		}
		var e keycache.Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("redis key cache decode: %w", err)
		}
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis key cache scan: %w", err)
	}
	return entries, nil
}

func (s *KeyStore) Close() error { return nil }
