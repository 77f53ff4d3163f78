package logger

import (
	"log/slog"
	"os"
)

// L is the package level logger used across the daemon and server paths.
var L = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Set replaces the default logger with the provided one.
func Set(l *slog.Logger) {
	if l != nil {
		L = l
	}
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return L.With(args...)
}
