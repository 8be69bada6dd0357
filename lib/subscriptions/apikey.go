package subscriptions

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const apiKeyPrefix = "rw_"

// GenerateAPIKey returns a new plaintext key and the hash stored for it.
func GenerateAPIKey() (plaintext, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext = apiKeyPrefix + hex.EncodeToString(b)
	return plaintext, HashAPIKey(plaintext), nil
}

func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// wellFormed rejects garbage before it reaches the database.
func wellFormed(plaintext string) bool {
	if !strings.HasPrefix(plaintext, apiKeyPrefix) || len(plaintext) != len(apiKeyPrefix)+64 {
		return false
	}
	_, err := hex.DecodeString(plaintext[len(apiKeyPrefix):])
	return err == nil
}

func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
