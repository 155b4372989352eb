// Package testing provides a mock token issuer for tests: an HTTP server
// publishing a discovery document and a JWK set, with RSA and EC keys that
// tokens can be signed against. It emulates the collaborator contract of a
// real issuer's key-publishing endpoint.
//
// Example usage:
//
//	issuer := sctesting.NewIssuer()
//	defer issuer.Close()
//
//	tok := scitokens.New(scitokens.WithKey(issuer.RSAKey(), issuer.RSAKeyID()))
//	raw, _ := tok.Serialize(issuer.URL())
package testing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/vynpt/scitokens/keys"
)

// Issuer is a mock issuer serving /.well-known/openid-configuration and a
// JWK set containing one RSA and one EC key.
type Issuer struct {
	server *httptest.Server

	mu       sync.Mutex
	rsaKey   *rsa.PrivateKey
	ecKey    *ecdsa.PrivateKey
	rsaKeyID string
	ecKeyID  string

	cacheControl   string
	serveDiscovery bool
}

// IssuerOption configures the mock issuer.
type IssuerOption func(*Issuer)

// WithCacheControl sets the Cache-Control header sent on the JWKS response.
// Without it, no freshness directive is sent at all.
func WithCacheControl(value string) IssuerOption {
	return func(i *Issuer) { i.cacheControl = value }
}

// WithoutDiscovery disables the discovery document so the issuer URL itself
// serves the key set.
func WithoutDiscovery() IssuerOption {
	return func(i *Issuer) { i.serveDiscovery = false }
}

// WithRSAKeyID overrides the kid published for the RSA key.
func WithRSAKeyID(kid string) IssuerOption {
	return func(i *Issuer) { i.rsaKeyID = kid }
}

// WithECKeyID overrides the kid published for the EC key.
func WithECKeyID(kid string) IssuerOption {
	return func(i *Issuer) { i.ecKeyID = kid }
}

// NewIssuer generates fresh RSA and EC key pairs and starts the HTTP server.
// Call Close when done.
func NewIssuer(opts ...IssuerOption) *Issuer {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testing issuer: generate RSA key: " + err.Error())
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic("testing issuer: generate EC key: " + err.Error())
	}

	i := &Issuer{
		rsaKey:         rsaKey,
		ecKey:          ecKey,
		rsaKeyID:       "test-rsa-1",
		ecKeyID:        "test-ec-1",
		serveDiscovery: true,
	}
	for _, opt := range opts {
		opt(i)
	}

	mux := http.NewServeMux()
	if i.serveDiscovery {
		mux.HandleFunc("/.well-known/openid-configuration", i.handleDiscovery)
		mux.HandleFunc("/oauth2/certs", i.handleJWKS)
	}
	mux.HandleFunc("/", i.handleJWKS)

	i.server = httptest.NewServer(mux)
	return i
}

// URL returns the issuer base URL.
func (i *Issuer) URL() string { return i.server.URL }

// Close shuts down the server.
func (i *Issuer) Close() { i.server.Close() }

// RSAKey returns the RSA private key currently published.
func (i *Issuer) RSAKey() *rsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rsaKey
}

// ECKey returns the EC private key currently published.
func (i *Issuer) ECKey() *ecdsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ecKey
}

// RSAKeyID returns the kid of the published RSA key.
func (i *Issuer) RSAKeyID() string { return i.rsaKeyID }

// ECKeyID returns the kid of the published EC key.
func (i *Issuer) ECKeyID() string { return i.ecKeyID }

// RotateRSAKey replaces the published RSA key under the same kid and returns
// the new private key, simulating an issuer that rotated its key material.
func (i *Issuer) RotateRSAKey() *rsa.PrivateKey {
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testing issuer: rotate RSA key: " + err.Error())
	}
	i.mu.Lock()
	i.rsaKey = newKey
	i.mu.Unlock()
	return newKey
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]string{
		"issuer":   i.URL(),
		"jwks_uri": i.URL() + "/oauth2/certs",
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	ks := keys.JWKS{Keys: []keys.JWK{
		keys.RSAPublicToJWK(&i.rsaKey.PublicKey, i.rsaKeyID, "RS256"),
		keys.ECPublicToJWK(&i.ecKey.PublicKey, i.ecKeyID, "ES256"),
	}}
	i.mu.Unlock()
	keys.ServeJWKS(w, r, ks, i.cacheControl)
}
