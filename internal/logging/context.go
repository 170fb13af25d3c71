// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if cs := ChangeSetFromContext(ctx); cs != nil {
		fields = append(fields,
			zap.String("changeset.repository", cs.Repository),
			zap.String("changeset.id", cs.ID),
		)
		if cs.Revision != "" {
			fields = append(fields, zap.String("changeset.revision", cs.Revision))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if gate := GateFromContext(ctx); gate != "" {
		fields = append(fields, zap.String("gate", gate))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type changeSetCtxKey struct{}
type runCtxKey struct{}
type gateCtxKey struct{}
type requestCtxKey struct{}

// ChangeSet identifies the change under review.
type ChangeSet struct {
	Repository string
	ID         string
	Revision   string
}

const maxIDLen = 128

var (
	repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)
	idPattern         = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
)

func validateID(id, name string, pattern *regexp.Regexp) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !pattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// Validate reports whether cs can be attached to a context.
func (cs ChangeSet) Validate() error {
	if err := validateID(cs.Repository, "changeset.Repository", repositoryPattern); err != nil {
		return err
	}
	if err := validateID(cs.ID, "changeset.ID", idPattern); err != nil {
		return err
	}
	if cs.Revision != "" {
		return validateID(cs.Revision, "changeset.Revision", idPattern)
	}
	return nil
}

// WithChangeSet adds change set identity to context.
// Panics on malformed values; callers validate keys at the trust boundary.
func WithChangeSet(ctx context.Context, cs ChangeSet) context.Context {
	if err := cs.Validate(); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, changeSetCtxKey{}, &cs)
}

// ChangeSetFromContext extracts change set identity from context.
func ChangeSetFromContext(ctx context.Context) *ChangeSet {
	if cs, ok := ctx.Value(changeSetCtxKey{}).(*ChangeSet); ok {
		return cs
	}
	return nil
}

// WithRunID adds the orchestration run id to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if err := validateID(runID, "runID", idPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run id from context.
func RunIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(runCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithGate adds the gate being driven to context.
func WithGate(ctx context.Context, gate string) context.Context {
	if err := validateID(gate, "gate", idPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, gateCtxKey{}, gate)
}

// GateFromContext extracts the gate name from context.
func GateFromContext(ctx context.Context) string {
	if g, ok := ctx.Value(gateCtxKey{}).(string); ok {
		return g
	}
	return ""
}

// WithRequestID adds an inbound request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID", idPattern); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
