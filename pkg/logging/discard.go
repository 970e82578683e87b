package logging

import (
	"io"
	"log/slog"
)

// Discard returns a logger that drops everything it is given.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a Discard logger if l is nil. Components that
// accept an optional *slog.Logger at construction use this so every call
// site can pass nil instead of threading a sentinel logger around.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
