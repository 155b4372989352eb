package issuers

import (
	"errors"
	"fmt"
)

// ErrMalformedKeySet reports that an issuer responded but the body could not
// be parsed as a JWK set. The key cache treats it like a network failure for
// fallback purposes.
var ErrMalformedKeySet = errors.New("issuers: malformed key set")

// ErrNonHTTPSIssuer reports that a plaintext or unknown-scheme issuer URL was
// used without the insecure flag.
var ErrNonHTTPSIssuer = errors.New("issuers: issuer URL requires https")

// ErrUnsupportedKeyType reports a published key that is neither RSA nor EC.
var ErrUnsupportedKeyType = errors.New("issuers: unsupported key type")

// NetworkError wraps a transport-level failure reaching an issuer: DNS, TCP,
// TLS, timeout, or a non-success HTTP status.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("issuers: fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MissingKeyError reports that the issuer's key set was retrieved
// successfully but does not contain the requested key id. It is never
// absorbed by cache fallback.
type MissingKeyError struct {
	Issuer string
	KeyID  string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("issuers: issuer %s does not publish key id %q", e.Issuer, e.KeyID)
}
