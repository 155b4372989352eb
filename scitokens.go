// Package scitokens builds and verifies SciTokens: signed JWT claim sets
// used for authorization between distributed scientific-computing services.
// Verification resolves the signing key from the token's claimed issuer
// through a persistent key cache (see the keycache package).
package scitokens

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vynpt/scitokens/issuers"
	"github.com/vynpt/scitokens/keycache"
	"github.com/vynpt/scitokens/keys"
)

// DefaultLifetime is the validity period stamped on serialized tokens when
// the caller does not override it.
const DefaultLifetime = 600 * time.Second

var (
	// ErrInvalidSignature reports that a token's signature does not
	// verify against the issuer's published key. No claims are returned.
	ErrInvalidSignature = errors.New("scitokens: invalid token signature")

	// ErrMalformedToken reports a token that is not a well-formed
	// three-part envelope or lacks the fields needed to verify it.
	ErrMalformedToken = errors.New("scitokens: malformed token")

	// ErrUnsupportedAlgorithm reports a signing algorithm outside the
	// RS*/ES* families.
	ErrUnsupportedAlgorithm = errors.New("scitokens: unsupported algorithm")

	// ErrKeyMismatch reports a header algorithm whose family does not
	// match the resolved key type (e.g. an ES256 header with an RSA key).
	ErrKeyMismatch = errors.New("scitokens: algorithm does not match issuer key type")
)

// validMethods are the JWS algorithms accepted during verification.
var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// SciToken is a claim set, either under construction for signing or the
// validated result of verification. Verified tokens are immutable in the
// sense that mutating them has no effect on the already-checked signature.
type SciToken struct {
	claims    jwt.MapClaims
	issuer    string
	keyID     string
	algorithm string
	key       crypto.PrivateKey
}

// Option configures a token under construction.
type Option func(*SciToken)

// WithKey attaches the private signing key and its key id. The key is only
// held for the signing call.
func WithKey(key crypto.PrivateKey, keyID string) Option {
	return func(t *SciToken) {
		t.key = key
		t.keyID = keyID
	}
}

// WithAlgorithm pins the signing algorithm (e.g. "RS256", "ES256"). Without
// it the algorithm is inferred from the key type.
func WithAlgorithm(alg string) Option {
	return func(t *SciToken) { t.algorithm = alg }
}

// New creates an empty token for signing.
func New(opts ...Option) *SciToken {
	t := &SciToken{claims: jwt.MapClaims{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateClaims merges the given claims into the token.
func (t *SciToken) UpdateClaims(claims map[string]any) {
	for k, v := range claims {
		t.claims[k] = v
	}
}

// SetClaim sets a single claim.
func (t *SciToken) SetClaim(name string, value any) { t.claims[name] = value }

// Claim returns a single claim value.
func (t *SciToken) Claim(name string) (any, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// Claims returns a copy of the token's claim set.
func (t *SciToken) Claims() map[string]any {
	out := make(map[string]any, len(t.claims))
	for k, v := range t.claims {
		out[k] = v
	}
	return out
}

// Issuer returns the token's issuer claim.
func (t *SciToken) Issuer() string { return t.issuer }

// KeyID returns the key id the token was signed with.
func (t *SciToken) KeyID() string { return t.keyID }

// Algorithm returns the JWS algorithm name.
func (t *SciToken) Algorithm() string { return t.algorithm }

type serializeConfig struct {
	lifetime time.Duration
}

// SerializeOption configures Serialize.
type SerializeOption func(*serializeConfig)

// WithLifetime overrides the token validity period.
func WithLifetime(d time.Duration) SerializeOption {
	return func(c *serializeConfig) { c.lifetime = d }
}

// Serialize signs the claim set for the given issuer and returns the compact
// three-part token. The registered claims iat, nbf, exp, and jti are filled
// in unless the caller set them explicitly.
func (t *SciToken) Serialize(issuer string, opts ...SerializeOption) ([]byte, error) {
	if t.key == nil {
		return nil, errors.New("scitokens: no signing key attached")
	}
	cfg := &serializeConfig{lifetime: DefaultLifetime}
	for _, opt := range opts {
		opt(cfg)
	}

	method, err := t.signingMethod()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range t.claims {
		claims[k] = v
	}
	claims["iss"] = issuer
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}
	if _, ok := claims["nbf"]; !ok {
		claims["nbf"] = now.Unix()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = now.Add(cfg.lifetime).Unix()
	}
	if _, ok := claims["jti"]; !ok {
		claims["jti"] = uuid.NewString()
	}

	token := jwt.NewWithClaims(method, claims)
	if t.keyID != "" {
		token.Header["kid"] = t.keyID
	}
	signed, err := token.SignedString(t.key)
	if err != nil {
		return nil, fmt.Errorf("scitokens: sign token: %w", err)
	}
	t.issuer = issuer
	t.algorithm = method.Alg()
	return []byte(signed), nil
}

// signingMethod picks the JWS method from the configured algorithm or, when
// unset, from the private key type, and rejects family/key mismatches.
func (t *SciToken) signingMethod() (jwt.SigningMethod, error) {
	if t.algorithm == "" {
		switch t.key.(type) {
		case *rsa.PrivateKey:
			return jwt.SigningMethodRS256, nil
		case *ecdsa.PrivateKey:
			return jwt.SigningMethodES256, nil
		default:
			return nil, fmt.Errorf("%w: cannot infer algorithm for key type %T", ErrUnsupportedAlgorithm, t.key)
		}
	}
	method := jwt.GetSigningMethod(t.algorithm)
	if method == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, t.algorithm)
	}
	switch method.(type) {
	case *jwt.SigningMethodRSA:
		if _, ok := t.key.(*rsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: %s with %T", ErrKeyMismatch, t.algorithm, t.key)
		}
	case *jwt.SigningMethodECDSA:
		if _, ok := t.key.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: %s with %T", ErrKeyMismatch, t.algorithm, t.key)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, t.algorithm)
	}
	return method, nil
}

// Deserialize parses and verifies a serialized token. The envelope is parsed
// untrusted to learn the claimed issuer and key id, the verification key is
// resolved through the cache, and the declared algorithm must match the
// resolved key type. Distinct failures stay distinct: an unreachable issuer
// surfaces as *issuers.NetworkError, an unpublished key id as
// *issuers.MissingKeyError, and a bad signature as ErrInvalidSignature.
func Deserialize(ctx context.Context, raw []byte, cache *keycache.KeyCache, insecure bool) (*SciToken, error) {
	if cache == nil {
		return nil, errors.New("scitokens: nil key cache")
	}

	parser := jwt.NewParser(jwt.WithValidMethods(validMethods))
	token, err := parser.Parse(string(raw), func(tok *jwt.Token) (any, error) {
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected claims shape", ErrMalformedToken)
		}
		iss, err := claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, fmt.Errorf("%w: missing issuer claim", ErrMalformedToken)
		}
		kid, _ := tok.Header["kid"].(string)

		pub, err := cache.GetKeyInfo(ctx, iss, kid, insecure)
		if err != nil {
			return nil, err
		}
		switch tok.Method.(type) {
		case *jwt.SigningMethodRSA:
			k, ok := pub.(keys.RSAPublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s header, %s key", ErrKeyMismatch, tok.Method.Alg(), pub.KeyType())
			}
			return k.Key, nil
		case *jwt.SigningMethodECDSA:
			k, ok := pub.(keys.ECPublicKey)
			if !ok {
				return nil, fmt.Errorf("%w: %s header, %s key", ErrKeyMismatch, tok.Method.Alg(), pub.KeyType())
			}
			return k.Key, nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, tok.Method.Alg())
		}
	})
	if err != nil {
		return nil, mapVerifyError(err)
	}

	claims := token.Claims.(jwt.MapClaims)
	iss, _ := claims.GetIssuer()
	kid, _ := token.Header["kid"].(string)
	return &SciToken{
		claims:    claims,
		issuer:    iss,
		keyID:     kid,
		algorithm: token.Method.Alg(),
	}, nil
}

// mapVerifyError translates golang-jwt failures into this package's error
// kinds while letting resolver and cache errors pass through unchanged.
func mapVerifyError(err error) error {
	var missing *issuers.MissingKeyError
	var netErr *issuers.NetworkError
	switch {
	case errors.As(err, &missing),
		errors.As(err, &netErr),
		errors.Is(err, issuers.ErrMalformedKeySet),
		errors.Is(err, issuers.ErrNonHTTPSIssuer),
		errors.Is(err, keycache.ErrCacheUnavailable),
		errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrKeyMismatch),
		errors.Is(err, ErrUnsupportedAlgorithm):
		return err
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return err
	}
}
