package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey is the context key for an HTTP request id.
	RequestIDKey contextKey = "request_id"
	// OfferIDKey is the context key for the offer_id a command concerns.
	OfferIDKey contextKey = "offer_id"
)

// Config holds logging configuration.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// Setup configures the global logger.
func Setup(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = &ContextHandler{Handler: handler}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// ContextHandler adds request-scoped context values to every log record
// passing through it.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		r.AddAttrs(slog.String("request_id", requestID))
	}
	if offerID, ok := ctx.Value(OfferIDKey).(uint64); ok && offerID != 0 {
		r.AddAttrs(slog.Uint64("offer_id", offerID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithOfferID adds an offer ID to the context.
func WithOfferID(ctx context.Context, offerID uint64) context.Context {
	return context.WithValue(ctx, OfferIDKey, offerID)
}

// Logger returns the default logger annotated with any context values
// present on ctx.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	var attrs []any
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if offerID, ok := ctx.Value(OfferIDKey).(uint64); ok && offerID != 0 {
		attrs = append(attrs, "offer_id", offerID)
	}

	if len(attrs) > 0 {
		return logger.With(attrs...)
	}
	return logger
}

// Audit logs an always-on structured event for an operationally
// significant state transition (rent, drop, zombie removal, destroy...).
func Audit(ctx context.Context, operation string, attrs ...any) {
	logger := slog.Default()

	baseAttrs := []any{
		"audit", true,
		"operation", operation,
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		baseAttrs = append(baseAttrs, "request_id", requestID)
	}
	if offerID, ok := ctx.Value(OfferIDKey).(uint64); ok && offerID != 0 {
		baseAttrs = append(baseAttrs, "offer_id", offerID)
	}

	baseAttrs = append(baseAttrs, attrs...)

	logger.Info("AUDIT", baseAttrs...)
}

// Debug logs a debug message using the context-scoped logger.
func Debug(ctx context.Context, msg string, args ...any) { Logger(ctx).Debug(msg, args...) }

// Info logs an info message using the context-scoped logger.
func Info(ctx context.Context, msg string, args ...any) { Logger(ctx).Info(msg, args...) }

// Warn logs a warning message using the context-scoped logger.
func Warn(ctx context.Context, msg string, args ...any) { Logger(ctx).Warn(msg, args...) }

// Error logs an error message using the context-scoped logger.
func Error(ctx context.Context, msg string, args ...any) { Logger(ctx).Error(msg, args...) }
