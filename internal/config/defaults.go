package config

import (
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Default configuration values.
const (
	DefaultTargetType = "duckdb"
	DefaultDSNEnv     = gateway.DefaultDSNEnv
)

// ApplyDefaults applies default values to a ProjectConfig.
func ApplyDefaults(c *ProjectConfig) {
	if c == nil {
		return
	}
	if c.Target == nil {
		c.Target = &TargetConfig{}
	}
	ApplyTargetDefaults(c.Target)
	c.Staging.LoadMode = strings.ToLower(strings.TrimSpace(c.Staging.LoadMode))
	if c.Staging.LoadMode == "" {
		c.Staging.LoadMode = string(gateway.LoadModeReplace)
	}
	c.Published.Mode = strings.ToLower(strings.TrimSpace(c.Published.Mode))
	if c.Published.Mode == "" {
		c.Published.Mode = string(gateway.LoadModeAppend)
	}
}

// ApplyTargetDefaults applies default values to a TargetConfig.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	if t.Type == "" {
		t.Type = DefaultTargetType
	}
	if t.DSNEnv == "" {
		t.DSNEnv = DefaultDSNEnv
	}
}
