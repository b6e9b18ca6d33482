package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// resetSecretBytes is the entropy of a password-reset secret.
const resetSecretBytes = 32

// NewResetSecret returns a random secret for the emailed reset link and the
// hash that is stored in its place.
func NewResetSecret() (plain, hash string, err error) {
	buf := make([]byte, resetSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset secret: %w", err)
	}
	plain = hex.EncodeToString(buf)
	return plain, HashSecret(plain), nil
}

// HashSecret returns the hex SHA-256 digest of s. Reset secrets and refresh
// tokens are stored only in this form.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
