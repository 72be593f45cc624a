// Package logging builds the process logger: JSON lines to the console and,
// when a file is configured, to a size-rotated log file as well.
package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON logger writing to stdout and, if file is not empty, to
// a rotated file. The returned closer releases the file.
func New(stdout io.Writer, level slog.Level, file string) (*slog.Logger, io.Closer) {
	var (
		w      = stdout
		closer io.Closer = nopCloser{}
	)
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		w = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
