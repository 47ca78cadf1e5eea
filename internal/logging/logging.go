// Package logging builds the root hclog logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/adbridge/internal/config"
)

// New returns the root logger writing to stderr.
func New(cfg config.LoggingConfig) hclog.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput returns the root logger writing to w. Unknown levels fall
// back to info.
func NewWithOutput(cfg config.LoggingConfig, w io.Writer) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            "adbridge",
		Level:           level,
		Output:          w,
		JSONFormat:      cfg.JSON,
		IncludeLocation: level <= hclog.Debug,
	})
}
