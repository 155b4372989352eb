package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
)

// JWK holds the wire fields for a single published key. RSA keys carry n/e,
// EC keys carry crv/x/y; all values are base64url without padding.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// RSAPublicToJWK converts an RSA public key to a JWK.
func RSAPublicToJWK(pub *rsa.PublicKey, kid, alg string) JWK {
	n := base64URLEncode(pub.N)
	e := base64URLEncode(big.NewInt(int64(pub.E)))
	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: alg, N: n, E: e}
}

// ECPublicToJWK converts an EC public key to a JWK. Coordinates are padded to
// the full byte width of the curve as RFC 7518 requires.
func ECPublicToJWK(pub *ecdsa.PublicKey, kid, alg string) JWK {
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size)))
	y := base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size)))
	return JWK{Kty: "EC", Use: "sig", Kid: kid, Alg: alg, Crv: pub.Curve.Params().Name, X: x, Y: y}
}

// ToJWK serializes any PublicKey variant to its wire form.
func ToJWK(key PublicKey, kid string) (JWK, error) {
	switch k := key.(type) {
	case RSAPublicKey:
		return RSAPublicToJWK(k.Key, kid, ""), nil
	case ECPublicKey:
		return ECPublicToJWK(k.Key, kid, ""), nil
	default:
		return JWK{}, fmt.Errorf("keys: unsupported key variant %T", key)
	}
}

// FromJWK reconstructs a PublicKey from its wire form.
func FromJWK(j JWK) (PublicKey, error) {
	switch j.Kty {
	case "RSA":
		n, err := base64URLDecode(j.N)
		if err != nil {
			return nil, fmt.Errorf("keys: jwk modulus: %w", err)
		}
		e, err := base64URLDecode(j.E)
		if err != nil {
			return nil, fmt.Errorf("keys: jwk exponent: %w", err)
		}
		return RSAPublicKey{Key: &rsa.PublicKey{N: n, E: int(e.Int64())}}, nil
	case "EC":
		curve, err := curveByName(j.Crv)
		if err != nil {
			return nil, err
		}
		x, err := base64URLDecode(j.X)
		if err != nil {
			return nil, fmt.Errorf("keys: jwk x coordinate: %w", err)
		}
		y, err := base64URLDecode(j.Y)
		if err != nil {
			return nil, fmt.Errorf("keys: jwk y coordinate: %w", err)
		}
		return ECPublicKey{Key: &ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported jwk kty %q", j.Kty)
	}
}

func curveByName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("keys: unsupported curve %q", name)
	}
}

// ServeJWKS writes a key set as JSON. cacheControl is sent as the
// Cache-Control header when non-empty; an ETag enables conditional GETs.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks JWKS, cacheControl string) {
	b, _ := json.Marshal(ks)
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	// Remove leading zeros for canonical form
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func base64URLDecode(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
