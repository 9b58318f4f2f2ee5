package lead

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/token"
)

// Handler accepts guarded lead submissions
type Handler struct {
	sink   Sink
	now    func() time.Time
	logger zerolog.Logger
}

// NewHandler creates a handler that forwards leads to sink
func NewHandler(sink Sink, logger zerolog.Logger) *Handler {
	return &Handler{
		sink:   sink,
		now:    time.Now,
		logger: logger,
	}
}

// Submit handles POST /api/v1/leads after ReplayGuard has run
func (h *Handler) Submit(c *gin.Context) {
	sub, ok := c.MustGet(ctxSubmission).(*Submission)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	claims, _ := c.MustGet(ctxClaims).(*token.Claims)

	requestID := c.GetString(ctxRequestID)
	lead := &Lead{
		RequestID:  requestID,
		Page:       claims.Page,
		Email:      strings.ToLower(strings.TrimSpace(sub.Email)),
		Name:       strings.TrimSpace(sub.Name),
		Phone:      strings.TrimSpace(sub.Phone),
		Message:    sub.Message,
		ReceivedAt: h.now().UTC(),
	}

	if err := h.sink.Submit(c.Request.Context(), lead); err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to submit lead")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to record submission, reload the page for a new token and resubmit",
			"code":  "SINK_ERROR",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"request_id": requestID,
	})
}
