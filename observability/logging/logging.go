package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotated JSON log file alongside stdout.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options tunes Setup. The zero value logs at info level to stdout only.
type Options struct {
	Level  string
	File   *FileConfig
	Output io.Writer
}

// ParseLevel maps a textual level to slog. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func writer(opts Options) (io.Writer, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File == nil || strings.TrimSpace(opts.File.Path) == "" {
		return out, nil
	}
	rotated := &lumberjack.Logger{
		Filename:   strings.TrimSpace(opts.File.Path),
		MaxSize:    opts.File.MaxSizeMB,
		MaxBackups: opts.File.MaxBackups,
		MaxAge:     opts.File.MaxAgeDays,
		Compress:   opts.File.Compress,
	}
	return io.MultiWriter(out, rotated), rotated
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided. The returned closer
// releases the log file and is nil when no file is configured.
func Setup(service, env string, opts Options) (*slog.Logger, io.Closer) {
	out, closer := writer(opts)
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		Level:     ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redact(attr)
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}
