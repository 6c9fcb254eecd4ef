package cryptox

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const (
	curveP384   = "P-384"
	p384ByteLen = 48
)

var (
	errShortBlob    = errors.New("sealed blob shorter than nonce")
	errNotP384      = errors.New("jwk: not an EC P-384 key")
	errNoPrivateKey = errors.New("jwk: private component missing")
)

// JWK is the JSON Web Key form of an EC key, laid out the way WebCrypto's
// exportKey("jwk") produces it so stored keys interoperate.
type JWK struct {
	Kty    string   `json:"kty"`
	Crv    string   `json:"crv"`
	X      string   `json:"x"`
	Y      string   `json:"y"`
	D      string   `json:"d,omitempty"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops,omitempty"`
}

// IsPrivate reports whether the key carries its private scalar.
func (k JWK) IsPrivate() bool { return k.D != "" }

// GenerateKeyPair creates a fresh ECDSA P-384 signing key.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

// ExportKeyPair returns the public and private JWKs of key.
func ExportKeyPair(key *ecdsa.PrivateKey) (pub JWK, priv JWK, err error) {
	pub, err = PublicJWK(&key.PublicKey)
	if err != nil {
		return JWK{}, JWK{}, err
	}

	ek, err := key.ECDH()
	if err != nil {
		return JWK{}, JWK{}, err
	}

	priv = pub
	priv.D = b64(ek.Bytes())
	priv.KeyOps = []string{"sign"}
	return pub, priv, nil
}

// PublicJWK exports an ECDSA P-384 public key.
func PublicJWK(key *ecdsa.PublicKey) (JWK, error) {
	ek, err := key.ECDH()
	if err != nil {
		return JWK{}, err
	}
	if ek.Curve() != ecdh.P384() {
		return JWK{}, errNotP384
	}

	// uncompressed point: 0x04 || X || Y
	point := ek.Bytes()
	return JWK{
		Kty:    "EC",
		Crv:    curveP384,
		X:      b64(point[1 : 1+p384ByteLen]),
		Y:      b64(point[1+p384ByteLen:]),
		Ext:    true,
		KeyOps: []string{"verify"},
	}, nil
}

// PublicKey imports the public half of the JWK, rejecting points off the curve.
func (k JWK) PublicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" || k.Crv != curveP384 {
		return nil, errNotP384
	}
	x, err := unb64(k.X, p384ByteLen)
	if err != nil {
		return nil, fmt.Errorf("jwk x: %w", err)
	}
	y, err := unb64(k.Y, p384ByteLen)
	if err != nil {
		return nil, fmt.Errorf("jwk y: %w", err)
	}

	point := append([]byte{4}, append(x, y...)...)
	if _, err := ecdh.P384().NewPublicKey(point); err != nil {
		return nil, err
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

// PrivateKey imports the full key pair from the JWK.
func (k JWK) PrivateKey() (*ecdsa.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, errNoPrivateKey
	}
	pub, err := k.PublicKey()
	if err != nil {
		return nil, err
	}
	d, err := unb64(k.D, p384ByteLen)
	if err != nil {
		return nil, fmt.Errorf("jwk d: %w", err)
	}

	ek, err := ecdh.P384().NewPrivateKey(d)
	if err != nil {
		return nil, err
	}
	expected, err := pub.ECDH()
	if err != nil {
		return nil, err
	}
	if !ek.PublicKey().Equal(expected) {
		return nil, errors.New("jwk: private scalar does not match public point")
	}

	return &ecdsa.PrivateKey{PublicKey: *pub, D: new(big.Int).SetBytes(d)}, nil
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func unb64(s string, size int) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
