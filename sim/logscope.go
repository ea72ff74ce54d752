package sim

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogFormat selects how log lines are rendered.
type LogFormat string

const (
	LogFormatShort   LogFormat = "short"
	LogFormatDefault LogFormat = "default"
	LogFormatLong    LogFormat = "long"
	LogFormatJSON    LogFormat = "json"
)

// validLogFormats maps accepted format strings.
var validLogFormats = map[LogFormat]bool{
	LogFormatShort:   true,
	LogFormatDefault: true,
	LogFormatLong:    true,
	LogFormatJSON:    true,
}

// ParseLogFormat parses a case-insensitive format name.
func ParseLogFormat(s string) (LogFormat, error) {
	f := LogFormat(strings.ToLower(strings.TrimSpace(s)))
	if !validLogFormats[f] {
		return "", fmt.Errorf("unknown log format %q (valid: short, default, long, json)", s)
	}
	return f, nil
}

// Formatter returns the logrus formatter rendering f.
func (f LogFormat) Formatter() logrus.Formatter {
	switch f {
	case LogFormatShort:
		return &logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true}
	case LogFormatLong:
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02T15:04:05.000000Z07:00"}
	case LogFormatJSON:
		return &logrus.JSONFormatter{}
	default:
		return &logrus.TextFormatter{FullTimestamp: true}
	}
}

// LogContext is the effective log level and format.
type LogContext struct {
	Level  logrus.Level
	Format LogFormat
}

// LogScope owns one logger and its current context. A scope is confined to a
// single goroutine: the manager keeps one for the single-threaded phases and
// every worker creates its own, so overrides applied by one worker are never
// observed by another.
type LogScope struct {
	logger  *logrus.Logger
	current LogContext
}

// NewLogScope creates a scope writing to out with the given ambient context.
func NewLogScope(out io.Writer, ambient LogContext) *LogScope {
	l := logrus.New()
	l.SetOutput(out)
	s := &LogScope{logger: l}
	s.apply(ambient)
	return s
}

// Current returns the effective context.
func (s *LogScope) Current() LogContext { return s.current }

// Logger returns the scope's logger.
func (s *LogScope) Logger() *logrus.Logger { return s.logger }

// Enter applies a module's overrides and returns the context to restore.
// Empty overrides keep the ambient value. On error nothing is changed.
func (s *LogScope) Enter(levelOverride, formatOverride string) (LogContext, error) {
	prior := s.current
	next := prior
	if levelOverride != "" {
		lvl, err := logrus.ParseLevel(levelOverride)
		if err != nil {
			return prior, fmt.Errorf("log_level: %w", err)
		}
		next.Level = lvl
	}
	if formatOverride != "" {
		f, err := ParseLogFormat(formatOverride)
		if err != nil {
			return prior, fmt.Errorf("log_format: %w", err)
		}
		next.Format = f
	}
	s.apply(next)
	return prior, nil
}

// Exit restores a context previously returned by Enter.
func (s *LogScope) Exit(prior LogContext) {
	s.apply(prior)
}

func (s *LogScope) apply(c LogContext) {
	if c.Format == "" {
		c.Format = LogFormatDefault
	}
	if s.current.Format != c.Format || s.logger.Formatter == nil {
		s.logger.SetFormatter(c.Format.Formatter())
	}
	s.logger.SetLevel(c.Level)
	s.current = c
}

// lockedWriter serializes writes from the per-worker loggers, which each hold
// their own mutex, onto one shared destination.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
