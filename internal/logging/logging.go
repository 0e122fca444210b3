// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Setup installs the default logger. Debug mode lowers the level so full
// diagnostics (stack traces, script errors) are written.
func Setup(isDebug bool) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "mycelium",
	})
	if isDebug {
		l.SetLevel(log.DebugLevel)
	}
	log.SetDefault(l)
	return l
}

// WithComponent returns a child of the default logger tagged with name.
func WithComponent(name string) *log.Logger {
	return log.Default().With("component", name)
}

// Discard returns a logger that writes nowhere. Used by tests and the CLI.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
