// Package keys models the public key material that issuers publish and
// verifiers cache. Keys are a closed variant over RSA and EC; every
// serialization and verification site switches exhaustively over the two.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// PublicKey is an issuer signing key as held by cache entries and in-flight
// verification calls. Values are immutable once constructed; construct them
// with FromCryptoKey, DecodePEM, or FromJWK.
type PublicKey interface {
	// KeyType returns the JWK "kty" value: "RSA" or "EC".
	KeyType() string
	// CryptoKey exposes the underlying key for signature verification.
	CryptoKey() crypto.PublicKey

	sealed()
}

// RSAPublicKey wraps an RSA public key.
type RSAPublicKey struct {
	Key *rsa.PublicKey
}

func (k RSAPublicKey) KeyType() string             { return "RSA" }
func (k RSAPublicKey) CryptoKey() crypto.PublicKey { return k.Key }
func (k RSAPublicKey) sealed()                     {}

// ECPublicKey wraps an elliptic-curve public key.
type ECPublicKey struct {
	Key *ecdsa.PublicKey
}

func (k ECPublicKey) KeyType() string             { return "EC" }
func (k ECPublicKey) CryptoKey() crypto.PublicKey { return k.Key }
func (k ECPublicKey) sealed()                     {}

// FromCryptoKey wraps a crypto public key in the tagged variant.
func FromCryptoKey(key crypto.PublicKey) (PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return RSAPublicKey{Key: k}, nil
	case *ecdsa.PublicKey:
		return ECPublicKey{Key: k}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported public key type %T", key)
	}
}

// EncodePEM serializes a public key as a PKIX PEM block. This is the format
// the persistent cache stores.
func EncodePEM(key PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key.CryptoKey())
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	blk := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(blk)), nil
}

// DecodePEM parses a PKIX PEM block produced by EncodePEM.
func DecodePEM(data string) (PublicKey, error) {
	blk, _ := pem.Decode([]byte(data))
	if blk == nil {
		return nil, errors.New("keys: no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(blk.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	return FromCryptoKey(parsed)
}
