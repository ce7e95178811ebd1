// ABOUTME: slog setup shared by the Falcon command line tools
// ABOUTME: Tees text logs to stdout and a log file
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/open-ephys-plugins/falcon-output/internal/version"
)

// Options configure the process logger
type Options struct {
	// Level is debug, info, warn or error (default: info)
	Level string

	// Format is text or json (default: text)
	Format string

	// File receives every record when set
	File string

	// Console also writes records to stdout; turned off while a TUI owns the terminal
	Console bool

	Service string
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Setup builds the logger and installs it as the slog default. The
// returned closer releases the log file.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console {
		writers = append(writers, os.Stdout)
	}

	logger := New(io.MultiWriter(writers...), opts)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New builds a logger writing to w
func New(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(opts.Format) == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	service := opts.Service
	if service == "" {
		service = "falcon"
	}
	return slog.New(handler).With("service", service, "version", version.Version)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
