package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/RustyBraze/Stickerwall/internal/platform/correlation"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
// file: optional path; when set, output is also written to a rotated log file.
// The returned closer flushes and closes the file writer.
func InitLogger(level, format, file string) io.Closer {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    25, // megabytes
			MaxBackups: 10,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	Logger = slog.New(NewHandler(out, level, format))
	slog.SetDefault(Logger)
	return closer
}

// NewHandler builds the correlation-aware handler used by InitLogger.
func NewHandler(out io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return correlation.NewHandler(handler)
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
