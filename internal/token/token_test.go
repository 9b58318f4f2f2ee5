package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/leadguard/internal/testutil"
)

var testSecret = []byte("landing-page-secret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func validClaims(now time.Time) *Claims {
	return &Claims{
		Page: "spring-bootcamp",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		},
	}
}

func newTestVerifier(t *testing.T, opts ...Option) (*Verifier, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock()
	v, err := NewVerifier(testSecret, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return v, clock
}

func TestVerify_Valid(t *testing.T) {
	v, clock := newTestVerifier(t)
	raw := sign(t, jwt.SigningMethodHS256, testSecret, validClaims(clock.Now()))

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, "spring-bootcamp", claims.Page)
	assert.Equal(t, DefaultType, claims.Type)
	assert.Equal(t, 10*time.Minute, claims.Remaining(clock.Now()))
}

func TestVerify_KeepsExplicitType(t *testing.T) {
	v, clock := newTestVerifier(t)
	c := validClaims(clock.Now())
	c.Type = "webinar"

	claims, err := v.Verify(sign(t, jwt.SigningMethodHS512, testSecret, c))
	require.NoError(t, err)
	assert.Equal(t, "webinar", claims.Type)
}

func TestVerify_Failures(t *testing.T) {
	now := testutil.Epoch

	tests := []struct {
		name    string
		raw     func(t *testing.T) string
		wantErr error
		reason  string
	}{
		{
			name:    "garbage",
			raw:     func(*testing.T) string { return "not-a-token" },
			wantErr: ErrMalformed,
			reason:  "malformed",
		},
		{
			name: "wrong secret",
			raw: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims(now))
			},
			wantErr: ErrSignature,
			reason:  "signature",
		},
		{
			name: "expired",
			raw: func(t *testing.T) string {
				c := validClaims(now.Add(-time.Hour))
				return sign(t, jwt.SigningMethodHS256, testSecret, c)
			},
			wantErr: ErrExpired,
			reason:  "expired",
		},
		{
			name: "no exp",
			raw: func(t *testing.T) string {
				c := validClaims(now)
				c.ExpiresAt = nil
				return sign(t, jwt.SigningMethodHS256, testSecret, c)
			},
			wantErr: ErrMissingClaim,
			reason:  "missing_claim",
		},
		{
			name: "no jti",
			raw: func(t *testing.T) string {
				c := validClaims(now)
				c.ID = ""
				return sign(t, jwt.SigningMethodHS256, testSecret, c)
			},
			wantErr: ErrMissingClaim,
			reason:  "missing_claim",
		},
		{
			name: "no page",
			raw: func(t *testing.T) string {
				c := validClaims(now)
				c.Page = ""
				return sign(t, jwt.SigningMethodHS256, testSecret, c)
			},
			wantErr: ErrMissingClaim,
			reason:  "missing_claim",
		},
		{
			name: "alg none",
			raw: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims(now))
			},
			wantErr: ErrSignature,
			reason:  "signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVerifier(t)

			_, err := v.Verify(tt.raw(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.Equal(t, tt.reason, Reason(err))
		})
	}
}

func TestVerify_Leeway(t *testing.T) {
	v, clock := newTestVerifier(t, WithLeeway(30*time.Second))
	raw := sign(t, jwt.SigningMethodHS256, testSecret, validClaims(clock.Now()))

	clock.Advance(10*time.Minute + 10*time.Second)
	_, err := v.Verify(raw)
	assert.NoError(t, err, "within leeway")

	clock.Advance(time.Minute)
	_, err = v.Verify(raw)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifier_LeewayAccessor(t *testing.T) {
	v, _ := newTestVerifier(t, WithLeeway(5*time.Second))
	assert.Equal(t, 5*time.Second, v.Leeway())

	plain, _ := newTestVerifier(t)
	assert.Zero(t, plain.Leeway())
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier(nil)
	assert.Error(t, err)
}

func TestClaims_RemainingWithoutExpiry(t *testing.T) {
	c := &Claims{}
	assert.Equal(t, time.Duration(0), c.Remaining(time.Now()))
}
