package log

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveFields are attribute keys whose values never reach a log sink.
// Matching is case-insensitive and also applies to keys with a sensitive
// suffix such as "new_secret" or "gnupg.passphrase".
var sensitiveFields = map[string]struct{}{
	"secret":       {},
	"passphrase":   {},
	"password":     {},
	"plaintext":    {},
	"private_key":  {},
	"key_material": {},
	"attr_val":     {},
	"value":        {},
	"token":        {},
	"kek":          {},
	"dek":          {},
}

type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fallback := slog.NewRecord(record.Time, slog.LevelError, "log redaction failed", record.PC)
			fallback.AddAttrs(slog.String("panic", redacted))
			err = h.inner.Handle(ctx, fallback)
		}
	}()

	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, redactAttr(attr))
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	if _, ok := sensitiveFields[key]; ok {
		return true
	}
	if i := strings.LastIndexAny(key, "._-"); i >= 0 {
		_, ok := sensitiveFields[key[i+1:]]
		return ok
	}
	return false
}

func redactAttr(attr slog.Attr) slog.Attr {
	if isSensitive(attr.Key) {
		return slog.String(attr.Key, redacted)
	}

	// LogValuers are resolved first so a type cannot smuggle a secret past
	// the key check inside a lazily built group.
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return slog.Attr{Key: attr.Key, Value: value}
	}

	group := value.Group()
	nested := make([]slog.Attr, 0, len(group))
	for _, a := range group {
		nested = append(nested, redactAttr(a))
	}
	return slog.Attr{Key: attr.Key, Value: slog.GroupValue(nested...)}
}
