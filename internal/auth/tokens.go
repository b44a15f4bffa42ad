// Package auth verifies operator credentials and issues the bearer tokens
// that guard the REST surface.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pkt.systems/relayd/internal/clock"
)

var (
	// ErrMissingToken reports a request without a bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken reports a malformed, forged or expired token.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	// ErrInvalidCredentials reports a failed login.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 16

// Claims are the JWT claims relayd issues.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer returns an Issuer. ttl must be positive.
func NewIssuer(secret []byte, issuer string, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: jwt secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token ttl must be positive")
	}
	return &Issuer{
		secret: append([]byte(nil), secret...),
		issuer: strings.TrimSpace(issuer),
		ttl:    ttl,
		clock:  clock.Or(clk),
	}, nil
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject and returns it with its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	now := i.clock.Now()
	expires := now.Add(i.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and checks signature, issuer and expiry. Every failure
// wraps ErrInvalidToken.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
