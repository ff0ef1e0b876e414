// Package config provides configuration management for the leapgate CLI.
//
// This package extends the project model from internal/config with
// CLI-specific fields (state store, output format, named environments) and
// layers environment variables and flags over the project file.
package config

import (
	sharedcfg "github.com/leapstack-labs/leapgate/internal/config"
)

// TargetConfig is an alias for the shared target configuration.
// This allows CLI code to use config.TargetConfig without importing internal/config.
type TargetConfig = sharedcfg.TargetConfig

// ProjectConfig is an alias for the shared project configuration.
type ProjectConfig = sharedcfg.ProjectConfig

// Config holds all CLI configuration options.
type Config struct {
	ProjectConfig `koanf:",squash"`

	StatePath    string               `koanf:"state_path"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	Target     *TargetConfig `koanf:"target"`
	SourcePath string        `koanf:"source_path"`
}

// Default configuration values.
const (
	DefaultStateFile = ".leapgate/state.db"
	DefaultEnv       = "dev"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)
