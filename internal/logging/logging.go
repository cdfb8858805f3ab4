// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var level = new(slog.LevelVar)

// SetLevel changes the level of every logger built by this package.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// New returns a logger writing to stderr. format "json" selects the JSON
// handler; anything else gets colored text output via tint.
func New(lvl, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, lvl, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, lvl, format string) *slog.Logger {
	SetLevel(lvl)
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(w),
		})
	}
	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
