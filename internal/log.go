package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	charm "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
)

var _logHandler *charm.Logger

type traceKey struct{}

// WithTrace attaches a trace ID to the context. Crawls started from the CLI
// use a fresh UUID; HTTP requests use chi's request ID.
func WithTrace(ctx context.Context, trace string) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// Log returns a logger scoped to the trace or request ID if present in the
// context.
func Log(ctx context.Context) *slog.Logger {
	trace := ctx.Value(traceKey{})
	if trace == nil {
		trace = ctx.Value(middleware.RequestIDKey)
	}
	if trace == nil {
		return slog.Default()
	}
	return slog.Default().With("trace", trace)
}

// SetLogLevel adjusts the level of the default handler.
func SetLogLevel(level charm.Level) {
	_logHandler.SetLevel(level)
}

// Requestlogger logs some info about requests we handled.
type Requestlogger struct{}

// Wrap applies middleware.
func (Requestlogger) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.Int("status", status),
				slog.Duration("duration", duration),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", r.RemoteAddr),
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400 && status != http.StatusNotFound:
				level = slog.LevelWarn
			default:
			}

			Log(ctx).LogAttrs(ctx, level,
				fmt.Sprintf("%s %s => HTTP %d (%v)", r.Method, r.URL.String(), status, duration),
				attrs...)
		}()

		next.ServeHTTP(ww, r)
	})
}

// set up our default log handler and formatting. Diagnostics go to stderr so
// stdout stays clean for rendered results.
func init() {
	styles := charm.DefaultStyles()
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true)
	styles.Keys["status"] = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	styles.Values["trace"] = lipgloss.NewStyle().Faint(true)

	_logHandler = charm.NewWithOptions(os.Stderr, charm.Options{
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
		Level:           charm.InfoLevel,
	})
	_logHandler.SetStyles(styles)

	// Output JSON in containers.
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		_logHandler.SetFormatter(
			charm.JSONFormatter,
		)
		_logHandler.SetTimeFormat(time.RFC3339)
	}

	logger := slog.New(_logHandler)
	slog.SetDefault(logger)
}
