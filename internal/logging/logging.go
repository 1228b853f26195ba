// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures New.
type Options struct {
	Name   string
	Level  string // trace, debug, info, warn, error, off
	JSON   bool
	Output io.Writer
}

// New returns an hclog logger writing to Output (stderr by default). An
// unknown level falls back to info.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	name := opts.Name
	if name == "" {
		name = "entity"
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:               name,
		Level:              level,
		Output:             out,
		JSONFormat:         opts.JSON,
		JSONEscapeDisabled: true,
	})
}
