// Package logging builds the structured logger shared by the CLI and the
// import pipeline.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr. Verbose enables per-record debug
// output together with caller locations.
func New(verbose bool) *log.Logger {
	return NewWithWriter(os.Stderr, verbose)
}

// NewWithWriter is New for an arbitrary destination.
func NewWithWriter(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportCaller:    verbose,
		ReportTimestamp: true,
		Prefix:          "finimport",
		Level:           level,
	})
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}
