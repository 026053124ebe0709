// Package logging builds the service's slog loggers and carries request
// scoped fields (request ID, user, logger) through contexts.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures NewWithOptions.
type Options struct {
	Level  string
	Format string // "json" or "text"
	Output io.Writer

	// File, when set, also writes to a size-rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a stdout logger.
func New(level, format string) *slog.Logger {
	return NewWithOptions(Options{Level: level, Format: format})
}

// NewWithOptions returns a logger per opts. Source locations are added at
// debug level.
func NewWithOptions(opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		out = io.MultiWriter(out, rotating(opts))
	}

	ho := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if strings.EqualFold(opts.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, ho))
	}
	return slog.New(slog.NewTextHandler(out, ho))
}

func rotating(opts Options) *lumberjack.Logger {
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if lj.MaxSize <= 0 {
		lj.MaxSize = 50
	}
	if lj.MaxBackups <= 0 {
		lj.MaxBackups = 5
	}
	if lj.MaxAge <= 0 {
		lj.MaxAge = 28
	}
	return lj
}

// ParseLevel accepts slog level names ("debug", "INFO", "warn+2") and
// "warning". Anything else is info.
func ParseLevel(name string) slog.Level {
	if strings.EqualFold(name, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type fieldsKey struct{}

// fields is stored by value; every With* copies it.
type fields struct {
	logger    *slog.Logger
	requestID string
	userID    string
}

func from(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

func with(ctx context.Context, mutate func(*fields)) context.Context {
	f := from(ctx)
	mutate(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithRequestID tags ctx with the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, func(f *fields) { f.requestID = id })
}

// RequestID returns the request ID of ctx, or "".
func RequestID(ctx context.Context) string {
	return from(ctx).requestID
}

// WithUserID tags the context with the user a request acts on.
func WithUserID(ctx context.Context, id string) context.Context {
	return with(ctx, func(f *fields) { f.userID = id })
}

// WithLogger stores the base logger for L.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return with(ctx, func(f *fields) { f.logger = logger })
}

// FromContext returns the stored logger or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l := from(ctx).logger; l != nil {
		return l
	}
	return slog.Default()
}

// L returns the context logger with request_id and user_id attached.
func L(ctx context.Context) *slog.Logger {
	f := from(ctx)
	logger := FromContext(ctx)
	if f.requestID != "" {
		logger = logger.With("request_id", f.requestID)
	}
	if f.userID != "" {
		logger = logger.With("user_id", f.userID)
	}
	return logger
}
