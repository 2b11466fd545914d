package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Format uint8

const (
	ConsoleFormat Format = iota
	JSONFormat
)

// Component loggers. They discard everything until Init is called, so
// library users and tests stay quiet.
var (
	Root     = zerolog.Nop()
	Storage  = zerolog.Nop()
	Database = zerolog.Nop()
	API      = zerolog.Nop()
)

type Options struct {
	Level  zerolog.Level
	Format Format
	Output io.Writer // default os.Stdout
}

func ParseLevel(level string) (zerolog.Level, error) {
	return zerolog.ParseLevel(level)
}

func ParseFormat(format string) (Format, error) {
	switch strings.ToLower(format) {
	case "", "console":
		return ConsoleFormat, nil
	case "json":
		return JSONFormat, nil
	}
	return ConsoleFormat, fmt.Errorf("unknown log format '%s'", format)
}

func Init(opts Options) {

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	if opts.Format == ConsoleFormat {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}
	}

	Root = zerolog.New(out).Level(opts.Level).With().Timestamp().Logger()
	Storage = Component("storage")
	Database = Component("database")
	API = Component("api")
}

func Component(name string) zerolog.Logger {
	return Root.With().Str("component", name).Logger()
}
