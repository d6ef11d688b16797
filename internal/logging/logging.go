// Package logging builds the zerolog logger shared by a dashboard session.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	Level string
	// File receives JSON lines when set. Used while the TUI owns the
	// terminal; headless commands log to Console instead.
	File    string
	Console io.Writer
}

// New returns a logger tagged with a fresh session id and a closer for the
// log file, if one was opened.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)
	session := uuid.NewString()

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch {
	case strings.TrimSpace(opts.File) != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	case opts.Console != nil:
		out = zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"}
	default:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("session", session).
		Logger()
	return logger, closer, nil
}

// ParseLevel maps a config level to zerolog, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RetryLogger adapts zerolog to retryablehttp.LeveledLogger.
type RetryLogger struct {
	Logger zerolog.Logger
}

func (r RetryLogger) Error(msg string, kv ...interface{}) {
	withFields(r.Logger.Error(), kv).Msg(msg)
}

func (r RetryLogger) Info(msg string, kv ...interface{}) {
	withFields(r.Logger.Debug(), kv).Msg(msg)
}

func (r RetryLogger) Debug(msg string, kv ...interface{}) {
	withFields(r.Logger.Trace(), kv).Msg(msg)
}

func (r RetryLogger) Warn(msg string, kv ...interface{}) {
	withFields(r.Logger.Warn(), kv).Msg(msg)
}

func withFields(ev *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}
