package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type slogLogger struct {
	l   *slog.Logger
	ctx context.Context
}

// New creates a Logger writing to w according to cfg
func New(cfg LogConfig, w io.Writer) Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.IncludeCaller,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.TimeKey {
				return a
			}
			if !cfg.IncludeTimestamp {
				return slog.Attr{}
			}
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{l: slog.New(h), ctx: context.Background()}
}

// NewFromConfig creates a Logger writing to the output named in cfg
func NewFromConfig(cfg LogConfig) (Logger, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return New(cfg, os.Stdout), nil
	case "stderr":
		return New(cfg, os.Stderr), nil
	default:
		return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return New(LogConfig{Level: "error"}, io.Discard)
}

// ParseLevel maps a level name to a slog level, defaulting to info
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

func (s *slogLogger) Debug(msg string, fields ...Field) {
	s.log(slog.LevelDebug, msg, fields)
}

func (s *slogLogger) Info(msg string, fields ...Field) {
	s.log(slog.LevelInfo, msg, fields)
}

func (s *slogLogger) Warn(msg string, fields ...Field) {
	s.log(slog.LevelWarn, msg, fields)
}

func (s *slogLogger) Error(msg string, fields ...Field) {
	s.log(slog.LevelError, msg, fields)
}

func (s *slogLogger) WithFields(fields ...Field) Logger {
	return &slogLogger{l: s.l.With(toArgs(fields)...), ctx: s.ctx}
}

func (s *slogLogger) WithContext(ctx context.Context) Logger {
	return &slogLogger{l: s.l, ctx: ctx}
}

func (s *slogLogger) log(level slog.Level, msg string, fields []Field) {
	if !s.l.Enabled(s.ctx, level) {
		return
	}
	s.l.Log(s.ctx, level, msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
