// Package cryptoutil holds the small crypto helpers shared by the stores:
// key format checks, confirmation tokens, verification codes and their
// peppered hashes.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// IsHexString reports whether s consists entirely of hexadecimal characters
// (0-9, a-f, A-F). It returns true for an empty string — callers should check
// length separately when a minimum size is required.
func IsHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// HashPeppered returns the hex sha256 of "pepper:value". Verification codes
// are stored through this, never in clear.
func HashPeppered(pepper, value string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + value))
	return hex.EncodeToString(sum[:])
}

// Token returns a 128-bit random URL-safe token.
func Token() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NumericCode returns a random zero-padded code of the given digit count.
func NumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}
