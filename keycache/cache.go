// Package keycache maintains a durable cache of issuer signing keys and
// decides, per lookup, whether to serve cached material, refresh it from the
// issuer, or fail. The cache survives process restarts and tolerates issuer
// outages: a stale entry keeps serving until a refresh succeeds.
package keycache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vynpt/scitokens/issuers"
	"github.com/vynpt/scitokens/keys"
)

// ErrCacheUnavailable reports that the on-disk cache location could not be
// created or opened. There is no in-memory fallback; construction fails.
var ErrCacheUnavailable = errors.New("keycache: unable to create key cache")

const (
	cacheSubdir   = "scitokens"
	cacheFileName = "scitokens_keycache.sqlite"
)

// KeyCache resolves issuer keys through a persistent store, refreshing them
// from the issuer when their scheduled re-validation time has passed.
// A KeyCache is an explicit handle; construct one per cache location.
type KeyCache struct {
	store    Store
	resolver *issuers.Resolver
	logger   *logrus.Logger
}

type config struct {
	cacheDir       string
	store          Store
	resolver       *issuers.Resolver
	logger         *logrus.Logger
	requestTimeout time.Duration
}

// Option configures a KeyCache.
type Option func(*config)

// WithCacheDir overrides the cache base directory (the scitokens subdirectory
// is still created beneath it).
func WithCacheDir(dir string) Option {
	return func(c *config) { c.cacheDir = dir }
}

// WithStore supplies a pre-built store, bypassing the on-disk default.
func WithStore(s Store) Option {
	return func(c *config) { c.store = s }
}

// WithResolver supplies a pre-built issuer resolver.
func WithResolver(r *issuers.Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithLogger sets the logger for refresh diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRequestTimeout bounds issuer fetches made by the default resolver.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.requestTimeout = d }
}

// New constructs a key cache. Unless a store is supplied, the cache lives in
// a scitokens subdirectory of $XDG_CACHE_HOME (or the platform user cache
// dir), created with owner-only permissions; failure to create or open it,
// including permission denial, returns ErrCacheUnavailable.
func New(opts ...Option) (*KeyCache, error) {
	cfg := &config{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		dir, err := resolveCacheDir(cfg.cacheDir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		store, err = OpenSQLiteStore(filepath.Join(dir, cacheFileName))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}

	resolver := cfg.resolver
	if resolver == nil {
		ropts := []issuers.Option{issuers.WithLogger(cfg.logger)}
		if cfg.requestTimeout > 0 {
			ropts = append(ropts, issuers.WithRequestTimeout(cfg.requestTimeout))
		}
		resolver = issuers.NewResolver(ropts...)
	}

	return &KeyCache{store: store, resolver: resolver, logger: cfg.logger}, nil
}

// Close releases the underlying store.
func (c *KeyCache) Close() error { return c.store.Close() }

// resolveCacheDir picks the cache base directory: explicit override, then
// $XDG_CACHE_HOME, then the platform default.
func resolveCacheDir(override string) (string, error) {
	base := override
	if base == "" {
		base = os.Getenv("XDG_CACHE_HOME")
	}
	if base == "" {
		var err error
		base, err = os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
	}
	return filepath.Join(base, cacheSubdir), nil
}

type lookupState int

const (
	lookupMiss lookupState = iota
	lookupFresh
	lookupStale
)

// GetKeyInfo returns the public key for (issuer, keyID).
//
// A cached entry whose re-validation time has not passed is returned without
// network access. A stale entry triggers a refresh; if the issuer cannot be
// reached or answers garbage, the stale key is served and the entry is left
// due so the next lookup retries. A cache miss always goes to the network
// and propagates failure. A successfully fetched key set that lacks keyID
// fails with *issuers.MissingKeyError regardless of cache state.
func (c *KeyCache) GetKeyInfo(ctx context.Context, issuer, keyID string, insecure bool) (keys.PublicKey, error) {
	norm, err := normalizeIssuer(issuer)
	if err != nil {
		return nil, err
	}

	entry, state, err := c.lookup(ctx, norm, keyID)
	if err != nil {
		return nil, err
	}

	switch state {
	case lookupFresh:
		return entry.PublicKey()

	case lookupStale:
		key, err := c.refresh(ctx, norm, keyID, insecure)
		if err == nil {
			return key, nil
		}
		var missing *issuers.MissingKeyError
		if errors.As(err, &missing) {
			return nil, err
		}
		// Transient failure: serve the stale key. The entry keeps its
		// past next_update so the next lookup retries the refresh.
		c.logger.WithFields(logrus.Fields{
			"issuer": norm,
			"key_id": keyID,
		}).WithError(err).Warn("issuer refresh failed, serving cached key")
		return entry.PublicKey()

	default: // lookupMiss
		return c.refresh(ctx, norm, keyID, insecure)
	}
}

// lookup classifies the cache state for (issuer, keyID).
func (c *KeyCache) lookup(ctx context.Context, issuer, keyID string) (*Entry, lookupState, error) {
	entry, err := c.store.Get(ctx, issuer, keyID)
	if err != nil {
		return nil, lookupMiss, err
	}
	if entry == nil {
		return nil, lookupMiss, nil
	}
	if time.Now().Before(entry.NextUpdate) {
		return entry, lookupFresh, nil
	}
	return entry, lookupStale, nil
}

// refresh fetches the key from the issuer and overwrites the cache entry on
// success. A store write failure is logged but does not discard the freshly
// fetched key.
func (c *KeyCache) refresh(ctx context.Context, issuer, keyID string, insecure bool) (keys.PublicKey, error) {
	key, timer, err := c.resolver.FetchIssuerKey(ctx, issuer, keyID, insecure)
	if err != nil {
		return nil, err
	}
	pemData, err := keys.EncodePEM(key)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	entry := &Entry{
		Issuer:     issuer,
		KeyID:      keyID,
		KeyData:    pemData,
		CacheTimer: timer,
		FetchedAt:  now,
		NextUpdate: now.Add(timer),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.WithFields(logrus.Fields{
			"issuer": issuer,
			"key_id": keyID,
		}).WithError(err).Warn("failed to persist refreshed key")
	}
	return key, nil
}

// Refresh force-fetches the key from the issuer and pins it into the cache,
// ignoring any existing entry's freshness.
func (c *KeyCache) Refresh(ctx context.Context, issuer, keyID string, insecure bool) (keys.PublicKey, error) {
	norm, err := normalizeIssuer(issuer)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, norm, keyID, insecure)
}

type addConfig struct {
	cacheTimer time.Duration
	nextUpdate time.Time
	hasNext    bool
}

// AddOption configures a direct cache insertion.
type AddOption func(*addConfig)

// WithCacheTimer sets the freshness period recorded on the entry.
func WithCacheTimer(d time.Duration) AddOption {
	return func(a *addConfig) { a.cacheTimer = d }
}

// WithNextUpdate overrides the entry's re-validation time. A past value
// forces the next lookup to attempt a refresh immediately.
func WithNextUpdate(t time.Time) AddOption {
	return func(a *addConfig) {
		a.nextUpdate = t
		a.hasNext = true
	}
}

// AddKeyInfo inserts or overwrites a cache entry directly, without any
// network access. By default the entry is fresh for the resolver's default
// cache timer.
func (c *KeyCache) AddKeyInfo(ctx context.Context, issuer, keyID string, key keys.PublicKey, opts ...AddOption) error {
	norm, err := normalizeIssuer(issuer)
	if err != nil {
		return err
	}
	cfg := &addConfig{cacheTimer: issuers.DefaultCacheTimer}
	for _, opt := range opts {
		opt(cfg)
	}
	pemData, err := keys.EncodePEM(key)
	if err != nil {
		return err
	}
	now := time.Now()
	next := now.Add(cfg.cacheTimer)
	if cfg.hasNext {
		next = cfg.nextUpdate
	}
	return c.store.Put(ctx, &Entry{
		Issuer:     norm,
		KeyID:      keyID,
		KeyData:    pemData,
		CacheTimer: cfg.cacheTimer,
		FetchedAt:  now,
		NextUpdate: next,
	})
}

// normalizeIssuer canonicalizes an issuer URL so that equivalent spellings
// share one cache entry: scheme and host are lowercased and any trailing
// slash is dropped.
func normalizeIssuer(issuer string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "", fmt.Errorf("keycache: invalid issuer %q: %w", issuer, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("keycache: invalid issuer %q: missing scheme or host", issuer)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
