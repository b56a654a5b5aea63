// Package logging configures odin's structured logger.
//
// Packages create their logger once with L, usually at init time. Those
// loggers resolve the live handler on every record, so a later Setup call
// (after flags and config are read) applies to them as well.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Structured field keys shared across packages.
const (
	KeyComponent = "component"
	KeyCommand   = "command"
)

// Options configures Setup.
type Options struct {
	// Format is "json" or "text". Anything else means text.
	Format string
	// Level is debug, info, warn or error.
	Level string
	// Output receives log lines, os.Stderr when nil.
	Output io.Writer
	// File, when set, also receives every line through a RotatingWriter.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// live holds the handler that every logger created by L writes through.
var live atomic.Pointer[slog.Handler]

func init() {
	install(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func install(h slog.Handler) {
	live.Store(&h)
	slog.SetDefault(slog.New(deferred{}))
}

// deferred replays With and WithGroup calls, in order, on top of the live
// handler.
type deferred struct {
	ops []func(slog.Handler) slog.Handler
}

func (d deferred) resolve() slog.Handler {
	h := *live.Load()
	for _, op := range d.ops {
		h = op(h)
	}
	return h
}

func (d deferred) then(op func(slog.Handler) slog.Handler) deferred {
	ops := make([]func(slog.Handler) slog.Handler, len(d.ops), len(d.ops)+1)
	copy(ops, d.ops)
	return deferred{ops: append(ops, op)}
}

func (d deferred) Enabled(ctx context.Context, level slog.Level) bool {
	return d.resolve().Enabled(ctx, level)
}

func (d deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return d
	}
	return d.then(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d deferred) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return d.then(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// Setup installs the handler described by opts. The returned closer releases
// the log file and is a no-op when none was opened.
func Setup(opts Options) (io.Closer, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rw, err := NewRotatingWriter(opts.File, opts.MaxSizeMB, opts.MaxBackups)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(out, rw)
		closer = rw
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		install(slog.NewJSONHandler(out, handlerOpts))
	} else {
		install(slog.NewTextHandler(out, handlerOpts))
	}
	return closer, nil
}

// Init installs a handler writing to output without a log file.
func Init(format, level string, output io.Writer) {
	// Setup only fails when opening a log file.
	_, _ = Setup(Options{Format: format, Level: level, Output: output})
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return slog.New(deferred{}).With(KeyComponent, component)
}

// ForCommand returns the CLI logger tagged with the running subcommand.
func ForCommand(command string) *slog.Logger {
	return L("odin").With(KeyCommand, command)
}

func parseLevel(s string) slog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
