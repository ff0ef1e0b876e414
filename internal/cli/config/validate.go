package config

import (
	"github.com/leapstack-labs/leapgate/pkg/core"
)

var outputFormats = map[string]bool{"": true, "auto": true, "text": true, "markdown": true, "json": true}

// Validate checks the CLI-level settings. The pipeline definition itself is
// validated when it is compiled.
func (c *Config) Validate() error {
	if !outputFormats[c.OutputFormat] {
		return core.NewConfigurationError("output", "unknown output format %q (want auto, text, markdown or json)", c.OutputFormat)
	}
	if c.StatePath == "" {
		return core.NewConfigurationError("state_path", "state_path is required")
	}
	if c.Target == nil {
		return core.NewConfigurationError("target", "target is required")
	}
	return c.Target.Validate()
}
