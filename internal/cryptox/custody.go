package cryptox

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/dmitrijs2005/credstore/internal/common"
	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length used by every scheme.
const KeySize = 32

const argon2Prefix = "$argon2id$"

// Scheme turns a password into the AES key protecting a private key blob.
type Scheme interface {
	Name() string
	Seal(jwk JWK, password string) (string, error)
	Open(blob string, password string) (JWK, error)
}

// LegacyScheme derives the key by UTF-8 encoding the password and
// right-padding it with zero bytes to 32 bytes, truncating longer input.
//
// This is not a KDF: there is no salt and no work factor, so the key space is
// exactly the password space. It is kept because stored shadow blobs depend on
// it; Argon2idScheme exists for deployments that can opt out.
type LegacyScheme struct{}

func (LegacyScheme) Name() string { return "legacy" }

// PaddedKey is the LegacyScheme key derivation.
func PaddedKey(password string) []byte {
	key := make([]byte, KeySize)
	copy(key, password)
	return key
}

func (LegacyScheme) Seal(jwk JWK, password string) (string, error) {
	key := PaddedKey(password)
	defer common.WipeByteArray(key)

	sealed, err := EncryptEntry(jwk, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (LegacyScheme) Open(blob string, password string) (JWK, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return JWK{}, err
	}

	key := PaddedKey(password)
	defer common.WipeByteArray(key)

	var jwk JWK
	if err := DecryptEntry(sealed, key, &jwk); err != nil {
		return JWK{}, err
	}
	return jwk, nil
}

// Argon2idScheme derives the key with Argon2id over a random 16-byte salt.
// Blobs are written as "$argon2id$" + base64(salt || nonce || ciphertext).
type Argon2idScheme struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

const argon2SaltSize = 16

// DefaultArgon2id returns interactive-login parameters: one pass over 64 MiB.
func DefaultArgon2id() Argon2idScheme {
	return Argon2idScheme{Time: 1, Memory: 64 * 1024, Threads: 4}
}

func (Argon2idScheme) Name() string { return "argon2id" }

func (s Argon2idScheme) deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, s.Time, s.Memory, s.Threads, KeySize)
}

func (s Argon2idScheme) Seal(jwk JWK, password string) (string, error) {
	salt := common.GenerateRandByteArray(argon2SaltSize)
	key := s.deriveKey(password, salt)
	defer common.WipeByteArray(key)

	sealed, err := EncryptEntry(jwk, key)
	if err != nil {
		return "", err
	}
	return argon2Prefix + base64.StdEncoding.EncodeToString(append(salt, sealed...)), nil
}

func (s Argon2idScheme) Open(blob string, password string) (JWK, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, argon2Prefix))
	if err != nil {
		return JWK{}, err
	}
	if len(raw) < argon2SaltSize+NonceSize {
		return JWK{}, errShortBlob
	}

	key := s.deriveKey(password, raw[:argon2SaltSize])
	defer common.WipeByteArray(key)

	var jwk JWK
	if err := DecryptEntry(raw[argon2SaltSize:], key, &jwk); err != nil {
		return JWK{}, err
	}
	return jwk, nil
}

// Custody encrypts private signing keys for storage and recovers them with
// the owner's plaintext password. New blobs use the configured scheme; Decrypt
// recognises blobs of either scheme.
type Custody struct {
	scheme Scheme
	argon2 Argon2idScheme
}

// NewCustody returns a Custody sealing with scheme; nil means LegacyScheme.
func NewCustody(scheme Scheme) *Custody {
	if scheme == nil {
		scheme = LegacyScheme{}
	}
	c := &Custody{scheme: scheme, argon2: DefaultArgon2id()}
	if a, ok := scheme.(Argon2idScheme); ok {
		c.argon2 = a
	}
	return c
}

// SchemeByName maps a configuration value onto a Scheme.
func SchemeByName(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "legacy":
		return LegacyScheme{}, nil
	case "argon2id":
		return DefaultArgon2id(), nil
	default:
		return nil, common.Newf(common.KindValidation, "unknown key scheme %q", name)
	}
}

func (c *Custody) Scheme() Scheme { return c.scheme }

// Encrypt seals the private JWK under password. Primitive failures are
// returned as crypto-kind errors carrying the original message.
func (c *Custody) Encrypt(jwk JWK, password string) (string, error) {
	if !jwk.IsPrivate() {
		return "", common.Wrap(common.KindCrypto, errNoPrivateKey)
	}
	blob, err := c.scheme.Seal(jwk, password)
	if err != nil {
		return "", common.Wrap(common.KindCrypto, err)
	}
	return blob, nil
}

// Decrypt recovers the private JWK. A wrong password fails authentication.
func (c *Custody) Decrypt(blob string, password string) (JWK, error) {
	var (
		jwk JWK
		err error
	)
	if strings.HasPrefix(blob, argon2Prefix) {
		jwk, err = c.argon2.Open(blob, password)
	} else {
		jwk, err = LegacyScheme{}.Open(blob, password)
	}
	if err != nil {
		return JWK{}, common.Wrap(common.KindCrypto, err)
	}
	if !jwk.IsPrivate() {
		return JWK{}, common.Wrap(common.KindCrypto, errors.New("decrypted key has no private component"))
	}
	return jwk, nil
}
