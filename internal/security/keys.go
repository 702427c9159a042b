package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// LoadPEM returns s itself when it is inline PEM, otherwise the contents of the file at path s.
// Inline PEM taken from a single-line env var may carry literal \n sequences; they are expanded.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, ErrInvalidKey
	case strings.HasPrefix(s, "-----BEGIN"):
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	default:
		return os.ReadFile(s)
	}
}

func decodeBlock(s string) (*pem.Block, error) {
	raw, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey parses an RSA or ECDSA private key in PKCS#1, SEC 1 or PKCS#8 form.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if signer, ok := key.(crypto.Signer); ok {
			return signer, nil
		}
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses an RSA or ECDSA public key in PKCS#1 or PKIX form.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParseVerificationKeys parses a "kid=pem-or-path;kid=pem-or-path" list of retired public keys
// that are still accepted for verification. Order is preserved.
func ParseVerificationKeys(s string) ([]VerificationKey, error) {
	var out []VerificationKey
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kid, pemOrPath, ok := strings.Cut(part, "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: verification key entry %q must be kid=pem", ErrInvalidKey, kid)
		}
		pub, err := ParsePublicKey(pemOrPath)
		if err != nil {
			return nil, fmt.Errorf("verification key %q: %w", kid, err)
		}
		out = append(out, VerificationKey{ID: kid, Key: pub})
	}
	return out, nil
}
