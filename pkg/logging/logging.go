// Package logging carries a charmbracelet logger through context.Context.
package logging

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

type ctxKey int

const loggerKey ctxKey = 0

var discard = log.New(io.Discard)

// New creates a logger writing to w at level, with short timestamps.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger in ctx, or a logger that discards
// everything.
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return discard
}

// Progress logs msg with the time elapsed since start, rounded to the
// millisecond.
func Progress(l *log.Logger, start time.Time, msg string) {
	l.Infof("%s (%s)", msg, time.Since(start).Round(time.Millisecond))
}
