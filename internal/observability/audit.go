package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one line of the run audit log.
type AuditEvent struct {
	Type      string                 `json:"event_type"` // "job" or "queue"
	Timestamp time.Time              `json:"timestamp"`
	Queue     string                 `json:"queue,omitempty"`
	Action    string                 `json:"action"` // e.g. "run:compact", "closed"
	Status    string                 `json:"status"` // "ok", "failed", "timeout"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// NewAuditLogger writes audit events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// GetAuditLogger returns the global audit logger. Until InitAuditLogger is called
// events are discarded.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = NewAuditLogger(io.Discard)
	}
	return auditInst
}

// InitAuditLogger points the global audit logger at path, appending to it.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	a := NewAuditLogger(file)
	a.closer = file

	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
	return nil
}

// CloseAuditLogger closes the global audit logger and reverts it to discarding events.
func CloseAuditLogger() error {
	auditMu.Lock()
	a := auditInst
	auditInst = nil
	auditMu.Unlock()

	if a == nil {
		return nil
	}
	return a.Close()
}

// Record writes event. When ctx carries a valid span the trace id is attached and the
// event is also added to the span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.queue", event.Queue),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("queue", event.Queue).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// RecordJobAudit records the outcome of one job run.
func RecordJobAudit(ctx context.Context, queue, job, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "job",
		Queue:    queue,
		Action:   "run:" + job,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordQueueAudit records a queue lifecycle change such as "closed" or "drained".
func RecordQueueAudit(ctx context.Context, queue, action string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "queue",
		Queue:    queue,
		Action:   action,
		Status:   "ok",
		Metadata: metadata,
	})
}
