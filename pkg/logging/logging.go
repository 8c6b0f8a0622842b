package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// builds the root logger shared by every component
// components derive their own with Named
func New(name, level string, json bool) hclog.Logger {
	return NewWithOutput(name, level, json, os.Stderr)
}

func NewWithOutput(name, level string, json bool, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           lvl,
		Output:          out,
		JSONFormat:      json,
		IncludeLocation: false,
	})
}

// returns l, or a logger that discards everything when l is nil
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
