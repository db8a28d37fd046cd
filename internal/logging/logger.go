package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Init initializes the global logger. If logFilePath is non-empty, logs are
// written to both stdout and the file. level can be "debug", "info", "warn", "error".
// When pretty is true stdout gets a human-readable console writer; the file
// (if any) always receives JSON lines.
func Init(logFilePath, level string, pretty bool) (func(), error) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var stdout io.Writer = os.Stdout
	if pretty {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	writers := []io.Writer{stdout}
	var f *os.File
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	Log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Str("app", "deskwatch").Logger()
	return func() {
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Log is the package-global logger configured by Init
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Get returns a pointer to the package-global logger
func Get() *zerolog.Logger {
	return &Log
}

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}
