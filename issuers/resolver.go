// Package issuers resolves the signing keys an issuer publishes at its
// well-known metadata location. The resolver performs a single discovery and
// fetch per call; retry scheduling belongs to the key cache, not here.
package issuers

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"github.com/vynpt/scitokens/keys"
)

// DefaultCacheTimer is how long a fetched key may be reused when the issuer
// response carries no max-age directive: 4 days.
const DefaultCacheTimer = 345600 * time.Second

// wellKnownConfig is the discovery path relative to the issuer URL.
const wellKnownConfig = "/.well-known/openid-configuration"

const defaultRequestTimeout = 30 * time.Second

// Resolver fetches issuer key sets over HTTP(S).
type Resolver struct {
	client         *http.Client
	insecureClient *http.Client
	logger         *logrus.Logger
	defaultTimer   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRequestTimeout bounds each issuer request. The caller context can
// shorten it further.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.client.Timeout = d
		r.insecureClient.Timeout = d
	}
}

// WithDefaultCacheTimer overrides the freshness period assumed when the
// issuer sets no max-age directive.
func WithDefaultCacheTimer(d time.Duration) Option {
	return func(r *Resolver) { r.defaultTimer = d }
}

// NewResolver builds a resolver with a bounded HTTP client.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{Timeout: defaultRequestTimeout},
		insecureClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger:       logrus.StandardLogger(),
		defaultTimer: DefaultCacheTimer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchIssuerKey retrieves the key identified by keyID from the issuer's
// published key set, along with the freshness period the issuer advertised.
// With an empty keyID a single-key set matches; a multi-key set does not.
// insecure permits plaintext transport and unverified TLS for test and debug
// setups; the default requires https.
func (r *Resolver) FetchIssuerKey(ctx context.Context, issuer, keyID string, insecure bool) (keys.PublicKey, time.Duration, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, 0, fmt.Errorf("issuers: invalid issuer URL %q: %w", issuer, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !insecure {
			return nil, 0, fmt.Errorf("%w: %s", ErrNonHTTPSIssuer, issuer)
		}
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrNonHTTPSIssuer, issuer)
	}

	client := r.client
	if insecure {
		client = r.insecureClient
	}

	jwksURL, err := r.discoverJWKSURL(ctx, client, issuer)
	if err != nil {
		return nil, 0, err
	}

	resp, err := r.get(ctx, client, jwksURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &NetworkError{URL: jwksURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	timer := r.defaultTimer
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		if dir, err := httpcc.ParseResponse(cc); err == nil {
			if maxAge, ok := dir.MaxAge(); ok && maxAge > 0 {
				timer = time.Duration(maxAge) * time.Second
			}
		}
	}

	set, err := jwk.ParseReader(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}

	key, found := lookupKey(set, keyID)
	if !found {
		return nil, 0, &MissingKeyError{Issuer: issuer, KeyID: keyID}
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}
	pub, err := toPublicKey(raw)
	if err != nil {
		return nil, 0, err
	}

	r.logger.WithFields(logrus.Fields{
		"issuer":      issuer,
		"key_id":      keyID,
		"key_type":    pub.KeyType(),
		"cache_timer": timer,
	}).Debug("fetched issuer key")
	return pub, timer, nil
}

// discoverJWKSURL reads the issuer's discovery document for jwks_uri. When
// the issuer serves no discovery document the issuer URL itself is treated as
// the key-set document.
func (r *Resolver) discoverJWKSURL(ctx context.Context, client *http.Client, issuer string) (string, error) {
	discoveryURL := strings.TrimRight(issuer, "/") + wellKnownConfig
	resp, err := r.get(ctx, client, discoveryURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.WithField("issuer", issuer).Debug("no discovery document, using issuer URL as key set")
		return issuer, nil
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil || doc.JWKSURI == "" {
		return issuer, nil
	}
	return doc.JWKSURI, nil
}

func (r *Resolver) get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	return resp, nil
}

func lookupKey(set jwk.Set, keyID string) (jwk.Key, bool) {
	if keyID == "" {
		// Tokens are allowed to omit kid when the issuer publishes a
		// single key.
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(keyID)
}

func toPublicKey(raw any) (keys.PublicKey, error) {
	switch k := raw.(type) {
	case *rsa.PublicKey:
		return keys.RSAPublicKey{Key: k}, nil
	case *ecdsa.PublicKey:
		return keys.ECPublicKey{Key: k}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, raw)
	}
}
