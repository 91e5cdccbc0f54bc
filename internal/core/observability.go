package core

import (
	"context"
	"time"
)

// Logger is the structured logging seam used by every service. The method set
// matches go-retryablehttp's LeveledLogger so a Logger can be handed to HTTP
// clients unchanged.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a UTC wall clock.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// MetricsRecorder observes the outcome of a named operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NoopMetrics returns a recorder that drops observations.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

// Tracer starts spans around operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// NoopTracer returns a tracer whose spans do nothing.
func NoopTracer() Tracer { return noopTracer{} }

// AuditStatus captures whether an audited operation succeeded.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one operator-visible action.
type AuditEntry struct {
	Operation string
	Entity    EntityType
	EntityID  string
	Status    AuditStatus
	Error     string
	Actor     string
	Reason    string
	At        time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// NoopAudit returns a recorder that drops entries.
func NoopAudit() AuditRecorder { return noopAudit{} }

// LoggingAuditRecorder writes audit entries through a Logger.
type LoggingAuditRecorder struct {
	Logger Logger
}

// Record implements AuditRecorder.
func (r LoggingAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	if r.Logger == nil {
		return
	}
	args := []any{
		"operation", entry.Operation,
		"entity", string(entry.Entity),
		"entity_id", entry.EntityID,
		"status", string(entry.Status),
	}
	if entry.Actor != "" {
		args = append(args, "actor", entry.Actor)
	}
	if entry.Reason != "" {
		args = append(args, "reason", entry.Reason)
	}
	if entry.Error != "" {
		args = append(args, "error", entry.Error)
		r.Logger.Warn("audit", args...)
		return
	}
	r.Logger.Info("audit", args...)
}
