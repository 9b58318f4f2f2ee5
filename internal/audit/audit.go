package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventReplayAdmitted EventType = "replay_admitted"
	EventReplayRejected EventType = "replay_rejected"
	EventTokenRejected  EventType = "token_rejected"
	EventStoreError     EventType = "store_error"
	EventKeysPurged     EventType = "keys_purged"
)

// Event represents an audit log event
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Key       string            `json:"key,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Count     int               `json:"count,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Auditor is implemented by Logger and NopLogger
type Auditor interface {
	Log(event *Event)
	LogDecision(requestID, kind, key string, admitted bool)
	LogTokenRejected(requestID, clientIP, reason string)
	LogStoreError(requestID, op, errorMsg string)
	LogKeysPurged(count int)
	Close() error
}

// Config holds audit logger configuration
type Config struct {
	// Enabled enables/disables audit logging
	Enabled bool `yaml:"enabled"`

	// Level controls what events are logged
	// "minimal" - only rejections and store errors
	// "standard" - minimal + admissions
	// "verbose" - all events including purges
	Level string `yaml:"level"`

	// Output specifies where to write logs
	// "stdout", "stderr", or a file path
	Output string `yaml:"output"`

	// Format specifies log format: "json" or "text"
	Format string `yaml:"format"`

	// IncludeClientIP keeps the caller address in events
	IncludeClientIP bool `yaml:"include_client_ip"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Level:           "standard",
		Output:          "stdout",
		Format:          "json",
		IncludeClientIP: false,
	}
}

// Logger handles audit logging
type Logger struct {
	mu      sync.RWMutex
	config  *Config
	logger  *slog.Logger
	output  io.Writer
	enabled bool
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if err := l.setupOutput(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Logger) setupOutput() error {
	var output io.Writer

	switch l.config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(l.config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		output = f
	}

	l.output = output

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if l.config.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	l.logger = slog.New(handler)
	return nil
}

// Log logs an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	level := l.config.Level
	includeIP := l.config.IncludeClientIP
	logger := l.logger
	l.mu.RUnlock()

	if !enabled || logger == nil {
		return
	}

	if !shouldLog(level, event.Type) {
		return
	}

	event.Timestamp = time.Now()

	if !includeIP {
		event.ClientIP = ""
	}

	attrs := []any{
		slog.String("type", string(event.Type)),
	}

	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Kind != "" {
		attrs = append(attrs, slog.String("kind", event.Kind))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.ClientIP != "" {
		attrs = append(attrs, slog.String("client_ip", event.ClientIP))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if event.Count > 0 {
		attrs = append(attrs, slog.Int("count", event.Count))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.Info("audit", attrs...)
}

func shouldLog(level string, eventType EventType) bool {
	switch level {
	case "minimal":
		return eventType == EventReplayRejected ||
			eventType == EventTokenRejected ||
			eventType == EventStoreError
	case "standard":
		return eventType != EventKeysPurged
	default:
		return true
	}
}

// LogDecision logs a replay guard decision
func (l *Logger) LogDecision(requestID, kind, key string, admitted bool) {
	eventType := EventReplayRejected
	if admitted {
		eventType = EventReplayAdmitted
	}
	l.Log(&Event{
		Type:      eventType,
		RequestID: requestID,
		Kind:      kind,
		Key:       key,
	})
}

// LogTokenRejected logs a token that failed verification
func (l *Logger) LogTokenRejected(requestID, clientIP, reason string) {
	l.Log(&Event{
		Type:      EventTokenRejected,
		RequestID: requestID,
		ClientIP:  clientIP,
		Reason:    reason,
	})
}

// LogStoreError logs a key store failure
func (l *Logger) LogStoreError(requestID, op, errorMsg string) {
	l.Log(&Event{
		Type:      EventStoreError,
		RequestID: requestID,
		Reason:    op,
		Error:     errorMsg,
	})
}

// LogKeysPurged logs a sweep that removed keys
func (l *Logger) LogKeysPurged(count int) {
	l.Log(&Event{
		Type:  EventKeysPurged,
		Count: count,
	})
}

// Enable enables audit logging
func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = true
}

// Disable disables audit logging
func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Level = level
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.output.(io.Closer); ok {
		if l.output != os.Stdout && l.output != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// ToJSON converts an event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NopLogger is a logger that does nothing
type NopLogger struct{}

// NewNopLogger creates a no-op logger
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log does nothing
func (l *NopLogger) Log(_ *Event) {}

// LogDecision does nothing
func (l *NopLogger) LogDecision(_, _, _ string, _ bool) {}

// LogTokenRejected does nothing
func (l *NopLogger) LogTokenRejected(_, _, _ string) {}

// LogStoreError does nothing
func (l *NopLogger) LogStoreError(_, _, _ string) {}

// LogKeysPurged does nothing
func (l *NopLogger) LogKeysPurged(_ int) {}

// Close does nothing
func (l *NopLogger) Close() error { return nil }
