package passkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/go-webauthn/webauthn/protocol"
)

// p384SigLen is the size of a raw r||s signature on P-384.
const p384SigLen = 96

type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// Verify reports whether assertion is a valid signature by publicKey over
// authenticatorData || SHA-256(clientDataJSON) and carries expectedChallenge.
//
// publicKey is a DER SubjectPublicKeyInfo for an ECDSA P-384 key; the
// signature may be ASN.1 DER (as authenticators emit it) or raw r||s (as
// WebCrypto emits it). Verify never fails loudly: malformed input, a panic in
// a primitive or any mismatch all yield false.
func Verify(assertion protocol.CredentialAssertionResponse, expectedChallenge []byte, publicKey []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	resp := assertion.AssertionResponse
	clientDataJSON := []byte(resp.ClientDataJSON)

	var cd clientData
	if err := json.Unmarshal(clientDataJSON, &cd); err != nil {
		return false
	}
	challenge, err := decodeChallenge(cd.Challenge)
	if err != nil {
		return false
	}
	if len(challenge) != len(expectedChallenge) || len(expectedChallenge) == 0 {
		return false
	}
	if subtle.ConstantTimeCompare(challenge, expectedChallenge) != 1 {
		return false
	}

	key, err := parseP384(publicKey)
	if err != nil {
		return false
	}

	clientHash := sha256.Sum256(clientDataJSON)
	signed := make([]byte, 0, len(resp.AuthenticatorData)+len(clientHash))
	signed = append(signed, resp.AuthenticatorData...)
	signed = append(signed, clientHash[:]...)
	digest := sha256.Sum256(signed)

	sig := []byte(resp.Signature)
	if len(sig) == p384SigLen {
		r := new(big.Int).SetBytes(sig[:p384SigLen/2])
		s := new(big.Int).SetBytes(sig[p384SigLen/2:])
		if ecdsa.Verify(key, digest[:], r, s) {
			return true
		}
	}
	return ecdsa.VerifyASN1(key, digest[:], sig)
}

// decodeChallenge accepts the base64url form browsers write into clientData
// as well as padded and standard alphabets.
func decodeChallenge(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("challenge is not base64")
}

func parseP384(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P384() {
		return nil, errors.New("public key is not ECDSA P-384")
	}
	return key, nil
}
