package chara

import "log/slog"

// Logger is the part of *slog.Logger the card service logs through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

// NewNopLogger returns a Logger that drops every record.
func NewNopLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
