package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File enables a rotating JSON log next to the console output.
	File    string
	Console io.Writer
}

// New builds the process logger. The returned func closes the log file.
func New(opts Options) (zerolog.Logger, func() error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}
	closeFn := func() error { return nil }

	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closeFn = file.Close
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closeFn
}
