package lead

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/audit"
	"github.com/hfi/leadguard/internal/guard"
	"github.com/hfi/leadguard/internal/metrics"
	"github.com/hfi/leadguard/internal/token"
)

// Context keys set by the middleware chain
const (
	ctxRequestID  = "request_id"
	ctxSubmission = "lead_submission"
	ctxClaims     = "lead_claims"
)

// RequestIDHeader carries a caller-supplied request id
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a request id, reusing the caller's header when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(guard.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Metrics records request duration per route
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequestDuration(route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// GuardOptions configures ReplayGuard
type GuardOptions struct {
	// FailOpen admits submissions when the key store is unavailable
	FailOpen bool
	Auditor  audit.Auditor
	Logger   zerolog.Logger
}

// ReplayGuard binds the submission, verifies its token and rejects tokens
// that were already used. Replays get 409 Conflict.
func ReplayGuard(verifier *token.Verifier, g *guard.Guard, opts GuardOptions) gin.HandlerFunc {
	auditor := opts.Auditor
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}

	return func(c *gin.Context) {
		requestID := c.GetString(ctxRequestID)

		var sub Submission
		if err := c.ShouldBindBodyWith(&sub, binding.JSON); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid submission",
				"code":  "INVALID_REQUEST",
			})
			return
		}

		claims, err := verifier.Verify(sub.Token)
		if err != nil {
			reason := token.Reason(err)
			metrics.RecordTokenRejected(reason)
			auditor.LogTokenRejected(requestID, c.ClientIP(), reason)
			opts.Logger.Debug().Err(err).Str("request_id", requestID).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		decision, err := g.CheckAndRecord(c.Request.Context(), guard.Key(claims.Type, claims.ID), replayTTL(g, claims, verifier.Now(), verifier.Leeway()))
		switch {
		case errors.Is(err, guard.ErrEmptyKey), errors.Is(err, guard.ErrInvalidTTL):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "INVALID_TOKEN",
			})
			return
		case err != nil && !opts.FailOpen:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "submission temporarily unavailable",
				"code":  "STORE_UNAVAILABLE",
			})
			return
		case err != nil:
			opts.Logger.Warn().Str("request_id", requestID).Msg("admitting submission without replay check")
		case decision == guard.Reject:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "submission already received",
				"code":  "REPLAY_DETECTED",
			})
			return
		}

		c.Set(ctxSubmission, &sub)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// replayTTL keeps a token's key for as long as the verifier would still
// accept the token, and never less than the window configured for its type.
func replayTTL(g *guard.Guard, claims *token.Claims, now time.Time, leeway time.Duration) time.Duration {
	ttl := g.TTLFor(claims.Type)
	if claims.ExpiresAt == nil {
		return ttl
	}
	if accepted := claims.Remaining(now) + leeway; accepted > ttl {
		return accepted
	}
	return ttl
}
