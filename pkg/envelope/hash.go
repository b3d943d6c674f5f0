package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 100000
	hashSaltLen    = 16
	hashLen        = 32
)

// HashForComparison returns "salt:hash" for value. An empty salt is replaced
// by 16 random bytes.
func HashForComparison(value, salt string) (string, error) {
	if salt == "" {
		b := make([]byte, hashSaltLen)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
		salt = base64.RawURLEncoding.EncodeToString(b)
	}
	if strings.Contains(salt, ":") {
		return "", fmt.Errorf("salt must not contain ':'")
	}
	return salt + ":" + hashWithSalt(value, salt), nil
}

func hashWithSalt(value, salt string) string {
	sum := pbkdf2.Key([]byte(value), []byte(salt), hashIterations, hashLen, sha256.New)
	return base64.RawURLEncoding.EncodeToString(sum)
}

// Verify reports whether value hashes to hashed. Malformed input is a mismatch.
func Verify(value, hashed string) bool {
	salt, want, ok := strings.Cut(hashed, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	got := hashWithSalt(value, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
