package issuers_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vynpt/scitokens/issuers"
	"github.com/vynpt/scitokens/keys"
	sctesting "github.com/vynpt/scitokens/testing"
)

func TestFetchRSAKey(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver(issuers.WithRequestTimeout(5 * time.Second))
	key, timer, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.RSAKeyID(), true)
	require.NoError(t, err)
	require.Equal(t, issuers.DefaultCacheTimer, timer)

	rsaKey, ok := key.(keys.RSAPublicKey)
	require.True(t, ok)
	require.True(t, issuer.RSAKey().PublicKey.Equal(rsaKey.Key))
}

func TestFetchECKey(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver()
	key, _, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.ECKeyID(), true)
	require.NoError(t, err)

	ecKey, ok := key.(keys.ECPublicKey)
	require.True(t, ok)
	require.True(t, issuer.ECKey().PublicKey.Equal(ecKey.Key))
}

func TestDefaultCacheTimerIsFourDays(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver()
	_, timer, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.RSAKeyID(), true)
	require.NoError(t, err)
	require.Equal(t, 345600*time.Second, timer)
}

func TestMaxAgeDirectiveHonored(t *testing.T) {
	issuer := sctesting.NewIssuer(sctesting.WithCacheControl("public, max-age=3600, must-revalidate"))
	defer issuer.Close()

	r := issuers.NewResolver()
	_, timer, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.RSAKeyID(), true)
	require.NoError(t, err)
	require.Equal(t, time.Hour, timer)
}

func TestMissingKeyID(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver()
	_, _, err := r.FetchIssuerKey(context.Background(), issuer.URL(), "no-such-kid", true)

	var missing *issuers.MissingKeyError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "no-such-kid", missing.KeyID)
}

func TestEmptyKeyIDAmbiguousSet(t *testing.T) {
	// The fixture publishes two keys, so an empty kid cannot select one.
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver()
	_, _, err := r.FetchIssuerKey(context.Background(), issuer.URL(), "", true)

	var missing *issuers.MissingKeyError
	require.ErrorAs(t, err, &missing)
}

func TestEmptyKeyIDSingleKeySet(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ks := keys.JWKS{Keys: []keys.JWK{keys.RSAPublicToJWK(&priv.PublicKey, "only", "RS256")}}
		keys.ServeJWKS(w, r, ks, "")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := issuers.NewResolver()
	key, _, err := r.FetchIssuerKey(context.Background(), srv.URL, "", true)
	require.NoError(t, err)
	require.Equal(t, "RSA", key.KeyType())
}

func TestRequiresHTTPSByDefault(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	r := issuers.NewResolver()
	_, _, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.RSAKeyID(), false)
	require.ErrorIs(t, err, issuers.ErrNonHTTPSIssuer)
}

func TestUnreachableIssuer(t *testing.T) {
	r := issuers.NewResolver(issuers.WithRequestTimeout(2 * time.Second))
	_, _, err := r.FetchIssuerKey(context.Background(), "https://127.0.0.1:1", "kid", false)

	var netErr *issuers.NetworkError
	require.ErrorAs(t, err, &netErr)

	var missing *issuers.MissingKeyError
	require.False(t, errors.As(err, &missing))
}

func TestMalformedKeySet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a key set"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := issuers.NewResolver()
	_, _, err := r.FetchIssuerKey(context.Background(), srv.URL, "kid", true)
	require.ErrorIs(t, err, issuers.ErrMalformedKeySet)
}

func TestDiscoveryFallbackToIssuerURL(t *testing.T) {
	issuer := sctesting.NewIssuer(sctesting.WithoutDiscovery())
	defer issuer.Close()

	r := issuers.NewResolver()
	key, _, err := r.FetchIssuerKey(context.Background(), issuer.URL(), issuer.RSAKeyID(), true)
	require.NoError(t, err)
	require.Equal(t, "RSA", key.KeyType())
}

func TestCallerContextCancellation(t *testing.T) {
	issuer := sctesting.NewIssuer()
	defer issuer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := issuers.NewResolver()
	_, _, err := r.FetchIssuerKey(ctx, issuer.URL(), issuer.RSAKeyID(), true)

	var netErr *issuers.NetworkError
	require.ErrorAs(t, err, &netErr)
}
