package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCharaHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "card saved",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tcard saved\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "content deduplicated",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tcontent deduplicated\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "snapshot taken",
			attrs:   []slog.Attr{slog.String("path", "/cards/aria.png"), slog.Int("tokens", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tsnapshot taken\tpath=/cards/aria.png\ttokens=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &charaHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestCharaHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &charaHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "vault")}).(*charaHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"a=1", "component=vault", "key=abc"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %s", got, want)
		}
	}
}

func TestCharaHandler_Enabled(t *testing.T) {
	t.Run("no level enables everything", func(t *testing.T) {
		h := &charaHandler{}
		for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
			if !h.Enabled(context.Background(), level) {
				t.Errorf("Enabled(%v) = false, want true", level)
			}
		}
	})

	t.Run("minimum level", func(t *testing.T) {
		h := &charaHandler{level: slog.LevelWarn}
		if h.Enabled(context.Background(), slog.LevelInfo) {
			t.Error("Enabled(INFO) = true with minimum WARN")
		}
		if !h.Enabled(context.Background(), slog.LevelError) {
			t.Error("Enabled(ERROR) = false with minimum WARN")
		}
	})
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env     string
		want    slog.Level
		wantErr bool
	}{
		{env: "", want: slog.LevelInfo},
		{env: "debug", want: slog.LevelDebug},
		{env: "WARN", want: slog.LevelWarn},
		{env: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("env "+tt.env, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.env)
			got, err := logLevel()
			if (err != nil) != tt.wantErr {
				t.Fatalf("logLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("logLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("card saved", "path", "/cards/aria.png")
	logger.Debug("hidden")

	data, err := os.ReadFile(filepath.Join(dir, "chara.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-op\tcard saved\tpath=/cards/aria.png") {
		t.Errorf("log file = %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug record written at default level")
	}
}
