package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "creator-payments"

// Attribute keys whose values are replaced before a line is written.
var redactedKeys = map[string]struct{}{
	"authorization":  {},
	"password":       {},
	"secret":         {},
	"secret_key":     {},
	"signature":      {},
	"dsn":            {},
	"account_number": {},
}

// New writes JSON to stdout. local and dev log at debug.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       levelFor(appEnv),
		ReplaceAttr: redact,
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("service", serviceName, "env", appEnv)
}

func levelFor(appEnv string) slog.Level {
	switch appEnv {
	case "local", "dev":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "[redacted]")
	}
	return a
}

type ctxKey struct{}

// With attaches l to ctx.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the request logger, or slog.Default outside a request.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
