package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler renders each record's level in an ANSI color ahead of
// the message so terminal output can be scanned by severity. Formatting
// of the record itself is delegated to the embedded slog.TextHandler.
type ColorTextHandler struct {
	*slog.TextHandler
	showTime bool
}

// NewColorTextHandler builds a handler writing colored text to w. When
// showTime is false the time attribute is dropped, which keeps
// interactive output to one glanceable line.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	if !showTime {
		opts = stripTime(opts)
	}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		showTime:    showTime,
	}
}

// Handle prefixes the message with the colored level name and hands the
// record to the embedded text handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var color string
	switch r.Level {
	case slog.LevelDebug:
		color = "\033[36m" // cyan
	case slog.LevelInfo:
		color = "\033[32m" // green
	case slog.LevelWarn:
		color = "\033[33m" // yellow
	case slog.LevelError:
		color = "\033[31m" // red
	default:
		color = "\033[0m"
	}

	r.Message = color + r.Level.String() + "\033[0m  " + r.Message

	return h.TextHandler.Handle(ctx, r)
}

// stripTime layers a ReplaceAttr that removes the built-in time key on
// top of any replacement the caller already supplied.
func stripTime(opts *slog.HandlerOptions) *slog.HandlerOptions {
	out := slog.HandlerOptions{}
	if opts != nil {
		out = *opts
	}
	inner := out.ReplaceAttr
	out.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		if inner != nil {
			return inner(groups, a)
		}
		return a
	}
	return &out
}
