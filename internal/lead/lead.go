// Package lead serves the public lead-submission API used by landing pages.
package lead

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/metrics"
)

// Submission is the JSON body posted by a landing page
type Submission struct {
	Token   string `json:"token" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Name    string `json:"name" binding:"max=200"`
	Phone   string `json:"phone" binding:"max=40"`
	Message string `json:"message" binding:"max=4000"`
}

// Lead is an admitted submission handed to a Sink
type Lead struct {
	RequestID  string    `json:"request_id"`
	Page       string    `json:"page"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Message    string    `json:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink receives leads that passed verification and replay checks
type Sink interface {
	Submit(ctx context.Context, lead *Lead) error
}

// LogSink writes leads to a zerolog logger
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs each lead
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Submit logs the lead. Contact details other than the email domain are
// left out of the log line.
func (s *LogSink) Submit(_ context.Context, lead *Lead) error {
	s.logger.Info().
		Str("request_id", lead.RequestID).
		Str("page", lead.Page).
		Str("email_domain", emailDomain(lead.Email)).
		Bool("has_phone", lead.Phone != "").
		Time("received_at", lead.ReceivedAt).
		Msg("lead accepted")
	metrics.LeadsAcceptedTotal.Inc()
	return nil
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
