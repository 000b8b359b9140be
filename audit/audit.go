// Package audit records who did what to which entity. Workflow services
// call it after a transition commits so operators can reconstruct the
// history of any listing, job or dispute.
package audit

import (
	"context"
	"log/slog"
)

// Entry describes one completed action.
type Entry struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Detail   map[string]any
}

// Recorder persists or emits audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Logger emits entries through slog.
type Logger struct {
	log *slog.Logger
}

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Record(ctx context.Context, e Entry) {
	attrs := []slog.Attr{
		slog.String("actor", e.Actor),
		slog.String("action", e.Action),
		slog.String("entity", e.Entity),
		slog.String("entity_id", e.EntityID),
	}
	for k, v := range e.Detail {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.log.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// Noop discards every entry.
type Noop struct{}

func (Noop) Record(ctx context.Context, e Entry) {}
