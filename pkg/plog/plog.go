// Package plog provides the process-wide structured logger. INFO and below go
// to stdout, WARNING and above to stderr, so scripted callers can separate
// progress output from diagnostics. Additional handlers (e.g. the per-run log
// file) can be attached and detached at runtime.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LevelNotice sits between Debug and Info and is used for per-file operation
// lines (COPY, DELETE, DIR). These are useful in run logs but too chatty for
// the default console level.
const LevelNotice = slog.Level(-2)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	extraHandlers []slog.Handler
	consoleLevel  = new(slog.LevelVar)

	quietMode atomic.Bool // Use an atomic bool for safe concurrent reads.
)

func init() {
	consoleLevel.Set(slog.LevelInfo)
	rebuild()
}

// rebuild reconstructs the default logger from the console handler plus any
// attached extra handlers. Callers must hold mu.
func rebuild() {
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: consoleLevel,
	})
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})

	handlers := make([]slog.Handler, 0, 1+len(extraHandlers))
	handlers = append(handlers, &LevelDispatchHandler{
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	})
	handlers = append(handlers, extraHandlers...)
	defaultLogger = slog.New(&fanoutHandler{handlers: handlers})
}

// fanoutHandler forwards every record to all of its handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// SetLevel sets the minimum level for console output.
func SetLevel(l slog.Level) {
	consoleLevel.Set(l)
}

// LevelFromString maps a user-supplied level name to a slog.Level.
// Unknown names fall back to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AttachHandler adds an extra handler (such as a run-log file writer) to the
// global logger. The returned function detaches it again.
func AttachHandler(h slog.Handler) (detach func()) {
	mu.Lock()
	defer mu.Unlock()
	extraHandlers = append(extraHandlers, h)
	rebuild()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for i, hh := range extraHandlers {
			if hh == h {
				extraHandlers = append(extraHandlers[:i], extraHandlers[i+1:]...)
				break
			}
		}
		rebuild()
	}
}

// SetOutput allows redirecting the logger's output, primarily for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	// When redirecting output for tests, ensure quiet mode is off
	// so that all levels are written to the provided writer.
	quietMode.Store(false)
	extraHandlers = nil
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// SetQuiet enables or disables quiet mode for the global logger.
// In quiet mode, INFO level logs and below are suppressed.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if the global logger is in quiet mode.
func IsQuiet() bool {
	return quietMode.Load()
}

func logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	logger().Debug(msg, args...)
}

// Notice logs a per-operation message at the notice level.
func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	logger().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}
