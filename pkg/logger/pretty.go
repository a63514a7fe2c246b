package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Pretty creates a *slog.Logger backed by the charmbracelet/log handler for
// colorized, human-friendly CLI output. Long-running services should use
// New instead; this is for interactive commands (status, config).
func Pretty(debug bool, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level := charmlog.InfoLevel
	if debug {
		level = charmlog.DebugLevel
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: false,
	})

	return slog.New(handler)
}
