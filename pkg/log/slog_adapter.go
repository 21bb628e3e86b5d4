package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes transcript events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter over logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", shortID(event.SessionID)),
		slog.String("channel", event.Channel.String()),
		slog.String("kind", event.Kind.String()),
	}
	if event.Host != "" {
		attrs = append(attrs, slog.String("host", event.Host))
	}
	if event.Scenario != "" {
		attrs = append(attrs, slog.String("scenario", event.Scenario))
	}

	switch {
	case event.Command != nil:
		attrs = append(attrs,
			slog.String("command", event.Command.Command),
			slog.Duration("duration", event.Command.Duration),
		)
		if event.Command.ExitStatus != nil {
			attrs = append(attrs, slog.Int("status", *event.Command.ExitStatus))
		}
		if event.Command.Err != "" {
			attrs = append(attrs, slog.String("error", event.Command.Err))
		}
	case event.State != nil:
		attrs = append(attrs,
			slog.String("old_state", event.State.OldState),
			slog.String("new_state", event.State.NewState),
		)
		if event.State.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.State.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.String("context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "transcript", attrs...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
