// Package logging implements the domain Logger on log/slog, writing to
// stderr and optionally shipping JSON records to a TCP log collector.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ochairo/capn/internal/domain/interfaces"
)

// levelOff is above every level a record can have
const levelOff = slog.Level(100)

const dialTimeout = 5 * time.Second

// Options configures the logger
type Options struct {
	Quiet   bool // silence all output
	Verbose int  // 0 info, 1 or more debug

	LogURL string // host:port of a TCP log collector, empty to disable
	User   string
	IP     string
	Repo   string

	Stderr io.Writer                                       // defaults to os.Stderr
	Dial   func(network, address string) (net.Conn, error) // defaults to net.DialTimeout
}

// Logger is a slog-backed interfaces.Logger
type Logger struct {
	logger *slog.Logger
	runID  string
	conn   net.Conn
}

var _ interfaces.Logger = (*Logger)(nil)

// New creates a logger. A log collector that cannot be reached is reported on
// stderr and logging continues without it.
func New(opts Options) *Logger {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	dial := opts.Dial
	if dial == nil {
		dial = func(network, address string) (net.Conn, error) {
			return net.DialTimeout(network, address, dialTimeout)
		}
	}

	level := Level(opts.Quiet, opts.Verbose)
	l := &Logger{runID: uuid.NewString()}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level, ReplaceAttr: dropTime}),
	}

	if opts.LogURL != "" && level != levelOff {
		conn, err := dial("tcp", opts.LogURL)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: Failed to initialize TCP logging to %s - %v\n", opts.LogURL, err)
		} else {
			l.conn = conn
			w := &reportingWriter{w: conn, stderr: stderr}
			shipped := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}).
				WithAttrs([]slog.Attr{slog.Group("context", contextAttrs(l.runID, opts)...)})
			handlers = append(handlers, shipped)
		}
	}

	l.logger = slog.New(fanout(handlers))
	return l
}

// Level maps the -q and -v flags onto a slog level
func Level(quiet bool, verbose int) slog.Level {
	switch {
	case quiet:
		return levelOff
	case verbose > 0:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func contextAttrs(runID string, opts Options) []any {
	attrs := []any{slog.String("run_id", runID)}
	if opts.User != "" {
		attrs = append(attrs, slog.String("user_id", opts.User))
	}
	if opts.IP != "" {
		attrs = append(attrs, slog.String("user_ip", opts.IP))
	}
	if opts.Repo != "" {
		attrs = append(attrs, slog.String("repo", opts.Repo))
	}
	return attrs
}

// dropTime removes the timestamp from terminal output
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// RunID identifies this run in shipped records
func (l *Logger) RunID() string {
	return l.runID
}

// Slog exposes the underlying slog logger
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Debug implements interfaces.Logger
func (l *Logger) Debug(msg string, fields ...interfaces.Field) {
	l.log(slog.LevelDebug, msg, fields)
}

// Info implements interfaces.Logger
func (l *Logger) Info(msg string, fields ...interfaces.Field) {
	l.log(slog.LevelInfo, msg, fields)
}

// Warn implements interfaces.Logger
func (l *Logger) Warn(msg string, fields ...interfaces.Field) {
	l.log(slog.LevelWarn, msg, fields)
}

// Error implements interfaces.Logger
func (l *Logger) Error(msg string, fields ...interfaces.Field) {
	l.log(slog.LevelError, msg, fields)
}

func (l *Logger) log(level slog.Level, msg string, fields []interfaces.Field) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, attr(f))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

func attr(f interfaces.Field) slog.Attr {
	switch v := f.Value.(type) {
	case error:
		return slog.String(f.Key, v.Error())
	case fmt.Stringer:
		return slog.String(f.Key, v.String())
	default:
		return slog.Any(f.Key, v)
	}
}

// Close closes the log collector connection
func (l *Logger) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close TCP logging connection: %w", err)
	}
	return nil
}

// reportingWriter reports write failures on stderr instead of failing the
// record, so a broken collector never stops the hook
type reportingWriter struct {
	mu     sync.Mutex
	w      io.Writer
	stderr io.Writer
}

func (r *reportingWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(p); err != nil {
		_, _ = fmt.Fprintf(r.stderr, "Error: Failed to log over TCP - %v\n", err)
	}
	return len(p), nil
}
