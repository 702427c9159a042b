package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a token cannot be parsed or lacks required claims.
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidSignature is returned when no verification key accepts the signature,
	// or when issuer/audience do not match this deployment.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrTokenExpired is returned when the signature is valid but exp has passed.
	ErrTokenExpired = errors.New("token expired")
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Token is a decoded (or freshly issued) signed token. It is never persisted.
type Token struct {
	Raw       string
	SubjectID string
	JTI       string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the JWT payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"token_type"`
}

// VerificationKey is a public key accepted for signature checks, addressed by kid.
type VerificationKey struct {
	ID  string
	Key crypto.PublicKey
}

// TokenCodec signs tokens with one active key and verifies them against an ordered
// set of keys so the signing key can rotate without invalidating outstanding tokens.
// Decode is pure: it never consults revocation or session state.
type TokenCodec struct {
	signer     crypto.Signer
	signingKID string
	method     jwt.SigningMethod
	verifyKeys []VerificationKey
	issuer     string
	audience   string
	leeway     time.Duration
	now        func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithVerificationKeys appends previously active keys accepted during verification.
func WithVerificationKeys(keys ...VerificationKey) CodecOption {
	return func(c *TokenCodec) {
		for _, k := range keys {
			if k.Key == nil || k.ID == c.signingKID {
				continue
			}
			c.verifyKeys = append(c.verifyKeys, k)
		}
	}
}

// WithLeeway tolerates clock skew when checking exp.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *TokenCodec) {
		if d > 0 {
			c.leeway = d
		}
	}
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec returns a codec that signs with signer (RS256 or ES256, chosen from the key type)
// under keyID. The signer's public key is always the first verification key.
func NewTokenCodec(signer crypto.Signer, keyID, issuer, audience string, opts ...CodecOption) (*TokenCodec, error) {
	if signer == nil {
		return nil, ErrInvalidKey
	}
	var method jwt.SigningMethod
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	c := &TokenCodec{
		signer:     signer,
		signingKID: keyID,
		method:     method,
		verifyKeys: []VerificationKey{{ID: keyID, Key: signer.Public()}},
		issuer:     issuer,
		audience:   audience,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue mints a token of the given kind for subjectID, valid for ttl from now, with a fresh jti.
func (c *TokenCodec) Issue(subjectID string, kind TokenKind, ttl time.Duration) (Token, error) {
	if subjectID == "" || !kind.Valid() || ttl <= 0 {
		return Token{}, ErrMalformedToken
	}
	jti, err := generateJTI()
	if err != nil {
		return Token{}, err
	}
	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subjectID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
	}
	t := jwt.NewWithClaims(c.method, claims)
	if c.signingKID != "" {
		t.Header["kid"] = c.signingKID
	}
	raw, err := t.SignedString(c.signer)
	if err != nil {
		return Token{}, err
	}
	return Token{
		Raw:       raw,
		SubjectID: subjectID,
		JTI:       jti,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Decode verifies raw and returns its claims. The signature is checked before expiry,
// so a forged expired token reports ErrInvalidSignature rather than ErrTokenExpired.
func (c *TokenCodec) Decode(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, ErrMalformedToken
	}
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return Token{}, ErrMalformedToken
	}
	kid, _ := unverified.Header["kid"].(string)

	parser := c.parser()
	lastErr := error(ErrInvalidSignature)
	for _, key := range c.candidates(kid) {
		claims := &Claims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key.Key, nil
		})
		if err == nil {
			return tokenFromClaims(raw, claims)
		}
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Token{}, classify(err)
		}
		lastErr = err
	}
	return Token{}, classify(lastErr)
}

func (c *TokenCodec) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	if c.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.leeway))
	}
	return jwt.NewParser(opts...)
}

// candidates returns the key matching kid first, then every other key in configured order.
func (c *TokenCodec) candidates(kid string) []VerificationKey {
	if kid == "" {
		return c.verifyKeys
	}
	out := make([]VerificationKey, 0, len(c.verifyKeys))
	for _, k := range c.verifyKeys {
		if k.ID == kid {
			out = append(out, k)
		}
	}
	for _, k := range c.verifyKeys {
		if k.ID != kid {
			out = append(out, k)
		}
	}
	return out
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrInvalidSignature
	default:
		return ErrMalformedToken
	}
}

func tokenFromClaims(raw string, claims *Claims) (Token, error) {
	if claims.Subject == "" || claims.ID == "" || !claims.Kind.Valid() {
		return Token{}, ErrMalformedToken
	}
	if claims.ExpiresAt == nil {
		return Token{}, ErrMalformedToken
	}
	t := Token{
		Raw:       raw,
		SubjectID: claims.Subject,
		JTI:       claims.ID,
		Kind:      claims.Kind,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return t, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
