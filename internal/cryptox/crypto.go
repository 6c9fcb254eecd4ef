// Package cryptox holds the cryptographic primitives of the credential store:
// the password digest, P-384 signing keypairs exported as JWKs, and KeyCustody,
// which keeps a user's private key encrypted under their password.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
)

// NonceSize is the AES-GCM IV length used for every sealed blob.
const NonceSize = 12

// EncryptEntry serializes entry to JSON and encrypts it with AES-GCM under
// key. A fresh random 12-byte nonce is drawn per call and returned prepended
// to the ciphertext: nonce || ciphertext.
//
// The key must be 16, 24 or 32 bytes long.
func EncryptEntry(entry any, key []byte) ([]byte, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+aesgcm.Overhead())
	out = append(out, nonce...)
	return aesgcm.Seal(out, nonce, plaintext, nil), nil
}

// DecryptEntry reverses EncryptEntry: it splits nonce || ciphertext,
// authenticates and decrypts it, and unmarshals the JSON plaintext into v.
// A wrong key fails GCM authentication; it never yields wrong plaintext.
func DecryptEntry(sealed, key []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(sealed) < NonceSize {
		return errShortBlob
	}

	plaintext, err := aesgcm.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
