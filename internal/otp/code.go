// Package otp issues, delivers and verifies one-time email codes used for registration
// and passwordless login.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit numeric code (e.g. "042917").
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// HashCode returns the hex SHA-256 of code. Only hashes are stored.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(provided, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(provided)), []byte(storedHash)) == 1
}
