package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// EnvLogLevel selects the minimum level logged (debug, info, warn, error).
const EnvLogLevel = "CHARA_LOG_LEVEL"

// charaHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type charaHandler struct {
	w     io.Writer
	opID  string
	level slog.Leveler
	attrs []slog.Attr
}

func (h *charaHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *charaHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)
	if err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *charaHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &charaHandler{
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *charaHandler) WithGroup(string) slog.Handler { return h }

// logLevel reads EnvLogLevel, defaulting to info.
func logLevel() (slog.Level, error) {
	var level slog.Level
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
	}
	return level, nil
}

// newLogger creates a structured logger that writes to both logDir/chara.log and stderr.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir string, opID string) (*slog.Logger, *os.File, error) {
	level, err := logLevel()
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "chara.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &charaHandler{w: w, opID: opID, level: level}
	return slog.New(handler), f, nil
}
