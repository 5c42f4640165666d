// Package audit records an audit trail of token API activity:
// session lifecycle and every completed cryptographic operation, with key
// material and plaintext always excluded. It mirrors the teacher's
// internal/audit package one level down in the stack — S3 object
// encrypt/decrypt events become token Sign/Verify/Encrypt/Decrypt/Digest
// events, and bucket/key identifiers become slot labels and handles.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kenneth/kms-token-provider/internal/config"
)

// EventType classifies one audit record.
type EventType string

const (
	EventTypeSign         EventType = "sign"
	EventTypeVerify       EventType = "verify"
	EventTypeEncrypt      EventType = "encrypt"
	EventTypeDecrypt      EventType = "decrypt"
	EventTypeDigest       EventType = "digest"
	EventTypeSessionOpen  EventType = "session_open"
	EventTypeSessionClose EventType = "session_close"
	EventTypeLogin        EventType = "login"
	EventTypeLogout       EventType = "logout"
	EventTypeRefresh      EventType = "refresh"
)

// Event is a single audit record. SessionHandle and ObjectHandle are the
// process-wide handle values (internal/handle.Handle) cast to uint64 so this
// package stays independent of the handle package; Mechanism is the CKM_*
// display name (registry.MechanismName), never raw key bytes.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	Slot          string                 `json:"slot,omitempty"`
	SessionHandle uint64                 `json:"session_handle,omitempty"`
	ObjectHandle  uint64                 `json:"object_handle,omitempty"`
	Mechanism     string                 `json:"mechanism,omitempty"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Duration      time.Duration          `json:"duration_ns"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// LogOperation records one completed cryptographic operation.
	LogOperation(eventType EventType, slot string, sessionHandle, objectHandle uint64, mechanism string, success bool, err error, duration time.Duration)

	// LogSession records a session-lifecycle event (open/close/login/logout).
	LogSession(eventType EventType, slot string, sessionHandle uint64, success bool, err error)

	// GetEvents returns all buffered events (for testing/querying).
	GetEvents() []*Event

	// Close closes the logger and its underlying writer.
	Close() error
}

type auditLogger struct {
	mu         sync.Mutex
	events     []*Event
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &auditLogger{
		events:     make([]*Event, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates an audit logger from configuration, or a
// disabled no-op logger when cfg.Enabled is false.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	if !cfg.Enabled {
		return NewLogger(0, &discardWriter{}), nil
	}

	var writer EventWriter
	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("audit: unknown sink type %q", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

func (l *auditLogger) log(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event) // best-effort: a sink failure never blocks the caller
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

// LogOperation records one completed cryptographic operation.
func (l *auditLogger) LogOperation(eventType EventType, slot string, sessionHandle, objectHandle uint64, mechanism string, success bool, err error, duration time.Duration) {
	event := &Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		EventType:     eventType,
		Slot:          slot,
		SessionHandle: sessionHandle,
		ObjectHandle:  objectHandle,
		Mechanism:     mechanism,
		Success:       success,
		Duration:      duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.log(event)
}

// LogSession records a session-lifecycle event.
func (l *auditLogger) LogSession(eventType EventType, slot string, sessionHandle uint64, success bool, err error) {
	event := &Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		EventType:     eventType,
		Slot:          slot,
		SessionHandle: sessionHandle,
		Success:       success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.log(event)
}

// GetEvents returns a copy of the buffered events.
func (l *auditLogger) GetEvents() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := make([]*Event, len(l.events))
	for i, e := range l.events {
		cp := *e
		events[i] = &cp
	}
	return events
}

// Close closes the underlying writer, if it supports closing.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// defaultWriter writes events to stdout as JSON, one per line.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// discardWriter is used when auditing is disabled: events are still counted
// toward GetEvents()'s in-memory buffer (useful in tests) but never written
// anywhere.
type discardWriter struct{}

func (w *discardWriter) WriteEvent(event *Event) error { return nil }
