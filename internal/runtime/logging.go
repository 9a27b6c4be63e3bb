package runtime

import (
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger: JSON on out, plus a rotating file when log_file is set.
// The returned closer flushes and closes the file and is never nil.
func NewLogger(cfg config.TelemetryConfig, out io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)})
	return slog.New(handler), closer
}

// ParseLevel maps a config level name to slog; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
