// Package logging builds the process logger from settings.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"media-clipper/internal/domain"
)

// New returns the root logger. Unknown levels fall back to info.
func New(settings domain.Settings) hclog.Logger {
	return NewWithOutput(settings, os.Stderr)
}

// NewWithOutput is New writing to out.
func NewWithOutput(settings domain.Settings, out io.Writer) hclog.Logger {
	level := hclog.LevelFromString(settings.LogLevel)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "media-clipper",
		Level:      level,
		Output:     out,
		JSONFormat: settings.LogJSON,
	})
}
