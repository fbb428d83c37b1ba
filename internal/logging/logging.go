// Package logging wraps log/slog with a handler that redacts credential
// material before it reaches the underlying writer -- a boundary-level
// generalization of the teacher's "never log key material" discipline
// (cmd/gandalf/run.go logs API key name + valid-prefix, never the key
// itself) so call sites never have to remember to scrub by hand.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[redacted]"

// sensitiveKeys are attribute keys whose values are always replaced,
// regardless of shape.
var sensitiveKeys = map[string]bool{
	"authorization":   true,
	"cookie":          true,
	"x-api-key":       true,
	"api_key":         true,
	"apikey":          true,
	"target_api_key":  true,
	"token":           true,
	"tokenheader":     true,
	"password":        true,
}

// Setup builds the process-wide slog.Logger: a JSON handler wrapped in
// the redacting handler, installed as slog.Default.
func Setup() *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewRedactingHandler(base))
	slog.SetDefault(logger)
	return logger
}

// RedactingHandler wraps a slog.Handler, scrubbing attribute values
// whose key names credential-shaped data or whose string value looks
// like a bearer token or connection string carrying a password.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redactedRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redactedRecord.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redactedRecord)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redactedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redactedAttrs[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redactedAttrs)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if sensitiveKeys[key] {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString && looksSensitive(a.Value.String()) {
		return slog.String(a.Key, redacted)
	}
	return a
}

// looksSensitive flags values carrying an embedded credential even when
// the attribute key itself is innocuous (e.g. a raw DSN or header line).
func looksSensitive(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "bearer ") ||
		strings.Contains(lower, "://") && strings.Contains(s, "@") // dsn with embedded credentials
}

// RedactString is for call sites that need to scrub a value before
// including it in a non-structured message, mirroring the teacher's
// manual DSN-truncation in cmd/gandalf/run.go.
func RedactString(s string) string {
	if looksSensitive(s) {
		return redacted
	}
	return s
}
