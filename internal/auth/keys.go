// Package auth handles organization API key generation and hashing.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const keyBytes = 32

// GenerateKey returns a fresh random API key as 64 hex characters. The
// raw key is shown to the caller exactly once; the store only ever sees
// its hash.
func GenerateKey() (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashKey hashes a key for storage and lookup. Surrounding whitespace
// is ignored so copy-pasted keys match.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
