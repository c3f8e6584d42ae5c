package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/input-output-hk/sftp-ingest/config"
)

// newLogger builds the process logger. Console output is for people; JSON is
// for log collectors.
func newLogger(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if format != config.LogFormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
