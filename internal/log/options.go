// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package log

import (
	"github.com/spf13/pflag"
)

// Options contains configuration settings for the logger.
type Options struct {
	// Name is an optional name for the logger.
	Name string `mapstructure:"name"`

	// Level is the minimum log level to output: debug, info, warn or error.
	Level string `mapstructure:"level"`

	// Format is the output encoding: console or json.
	Format string `mapstructure:"format"`

	// EnableColor colorizes levels in console format.
	EnableColor bool `mapstructure:"enable-color"`

	// DisableCaller stops annotating logs with file and line.
	DisableCaller bool `mapstructure:"disable-caller"`

	// OutputPaths lists log destinations. Defaults to stderr so logs never
	// interleave with the operator console on stdout.
	OutputPaths []string `mapstructure:"output-paths"`
}

// NewOptions creates a new Options object with default values
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		OutputPaths: []string{"stderr"},
	}
}

// AddFlags binds command-line flags to the Options fields
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "An optional name for the logger.")
	fs.StringVar(&o.Level, "log.level", o.Level, "The minimum log level to output (debug, info, warn, error).")
	fs.StringVar(&o.Format, "log.format", o.Format, "The log output format (console or json).")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Enable colorized output for the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Disable the caller field in logs.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log output paths (e.g. stderr, /var/log/bmslink.log).")
}
