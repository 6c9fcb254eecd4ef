package cryptox

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKeyPair_Shape(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	pub, priv, err := ExportKeyPair(key)
	require.NoError(t, err)

	assert.Equal(t, "EC", pub.Kty)
	assert.Equal(t, "P-384", pub.Crv)
	assert.Len(t, pub.X, 64) // 48 bytes, unpadded base64url
	assert.Len(t, pub.Y, 64)
	assert.Empty(t, pub.D)
	assert.False(t, pub.IsPrivate())
	assert.Equal(t, []string{"verify"}, pub.KeyOps)

	assert.True(t, priv.IsPrivate())
	assert.Equal(t, pub.X, priv.X)
	assert.Equal(t, []string{"sign"}, priv.KeyOps)

	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"d"`)
}

func TestJWK_ImportRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)
	pub, priv, err := ExportKeyPair(key)
	require.NoError(t, err)

	imported, err := priv.PrivateKey()
	require.NoError(t, err)
	assert.True(t, imported.Equal(key))

	importedPub, err := pub.PublicKey()
	require.NoError(t, err)
	assert.True(t, importedPub.Equal(&key.PublicKey))

	digest := sha256.Sum256([]byte("payload"))
	sig, err := ecdsa.SignASN1(rand.Reader, imported, digest[:])
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(importedPub, digest[:], sig))
}

func TestJWK_ImportRejects(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)
	pub, priv, err := ExportKeyPair(key)
	require.NoError(t, err)

	_, err = pub.PrivateKey()
	assert.Error(t, err, "public jwk has no d")

	wrongCurve := pub
	wrongCurve.Crv = "P-256"
	_, err = wrongCurve.PublicKey()
	assert.Error(t, err)

	offCurve := pub
	offCurve.Y = offCurve.X
	_, err = offCurve.PublicKey()
	assert.Error(t, err)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	_, otherPriv, err := ExportKeyPair(other)
	require.NoError(t, err)
	mismatched := priv
	mismatched.D = otherPriv.D
	_, err = mismatched.PrivateKey()
	assert.Error(t, err)
}
