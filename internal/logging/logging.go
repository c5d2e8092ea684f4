// Package logging builds the structured logger shared by every loop and
// adapter. Redact is the helper for keeping a secret-shaped value out of a
// log field; fields are not filtered or sanitized automatically.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// New builds a production zap.Logger for "production" environments and a
// more verbose, console-encoded one otherwise (mirrors the dev/prod split
// the pack's worker entrypoints use around logger.Init).
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	return cfg.Build()
}

// WithLogger attaches a logger to a context so deep call chains (adapter ->
// planner -> store) don't need it threaded through every signature.
func WithLogger(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger attached by WithLogger, or a no-op logger
// if none was attached (keeps call sites panic-free in tests).
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}

// RequestFields builds the structured-context fields every error in §7 must
// carry: requestId, and optionally route/bridge/invoice identifiers.
func RequestFields(requestID string, route, bridge, invoiceID string) []zap.Field {
	fields := []zap.Field{zap.String("requestId", requestID)}
	if route != "" {
		fields = append(fields, zap.String("route", route))
	}
	if bridge != "" {
		fields = append(fields, zap.String("bridge", bridge))
	}
	if invoiceID != "" {
		fields = append(fields, zap.String("invoiceId", invoiceID))
	}
	return fields
}

// Redact replaces a secret-shaped value with a fixed-length marker so a
// caller can safely pass arbitrary configuration into a log field.
func Redact(string) string {
	return "[redacted]"
}
