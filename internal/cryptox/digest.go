package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashPassword returns the lowercase hex SHA-256 of the trimmed password.
// This is the only form in which passwords are stored or compared.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(password)))
	return hex.EncodeToString(sum[:])
}

// CheckPassword reports whether password digests to the stored digest.
func CheckPassword(password, digest string) bool {
	candidate := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(strings.ToLower(digest))) == 1
}
