// Package token verifies the short-lived signed tokens that landing pages
// attach to lead submissions.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultType is assumed when a token carries no typ claim
const DefaultType = "lead"

var (
	ErrMalformed    = errors.New("token malformed")
	ErrExpired      = errors.New("token expired")
	ErrSignature    = errors.New("token signature invalid")
	ErrMissingClaim = errors.New("token missing required claim")
)

// Claims are the landing-page token claims. The registered jti claim is the
// one-time credential used for replay detection.
type Claims struct {
	Page string `json:"page"`
	Type string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

// Remaining returns how long the token stays valid after now
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Verifier checks HMAC-signed landing-page tokens
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithLeeway tolerates clock skew when checking exp, nbf and iat
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// WithClock replaces the wall clock used for time-based claims
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates a verifier for tokens signed with secret
func NewVerifier(secret []byte, opts ...Option) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	v := &Verifier{
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Now returns the verifier's current time
func (v *Verifier) Now() time.Time {
	return v.now()
}

// Leeway returns how long past exp a token is still accepted
func (v *Verifier) Leeway() time.Duration {
	return v.leeway
}

// Verify parses raw and returns its claims if the signature and time
// claims are valid and jti and page are present.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	if claims.Page == "" {
		return nil, fmt.Errorf("%w: page", ErrMissingClaim)
	}
	if claims.Type == "" {
		claims.Type = DefaultType
	}
	return claims, nil
}

// classify maps jwt parse errors onto the package sentinels
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMissingClaim, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Reason returns a short label for a Verify error, used in metrics and
// audit events.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrSignature):
		return "signature"
	case errors.Is(err, ErrMissingClaim):
		return "missing_claim"
	default:
		return "malformed"
	}
}
