package main

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// newLogger returns the console logger every component logs through. Each
// process run gets its own run_id. Extra writers receive the same events as
// JSON lines.
func newLogger(w io.Writer, extra ...io.Writer) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}}
	writers = append(writers, extra...)
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
}
