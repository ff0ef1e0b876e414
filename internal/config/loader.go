package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/pkg/core"
	yamlv3 "gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "leapgate.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "leapgate.yml"

// LoadFromDir loads a ProjectConfig from the given directory.
// It looks for leapgate.yaml or leapgate.yml in the directory.
// Returns nil, nil if no config file is found (not an error condition).
func LoadFromDir(dir string) (*ProjectConfig, error) {
	configPath := FindConfigFile(dir)
	if configPath == "" {
		return nil, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads a ProjectConfig from path. Relative file references
// (source path, DDL files, rules file) are resolved against the file's directory.
func LoadFile(path string) (*ProjectConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	cfg.ResolvePaths(filepath.Dir(path))
	return &cfg, nil
}

// ResolvePaths makes every relative file reference relative to baseDir.
// Remote source locations are left untouched.
func (c *ProjectConfig) ResolvePaths(baseDir string) {
	if !isRemote(c.Source.Path) {
		c.Source.Path = ResolvePath(c.Source.Path, baseDir)
	}
	c.Staging.DDLFile = ResolvePath(c.Staging.DDLFile, baseDir)
	c.Published.DDLFile = ResolvePath(c.Published.DDLFile, baseDir)
	c.RulesFile = ResolvePath(c.RulesFile, baseDir)
}

// ResolvePath resolves path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func ResolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// LoadRulesFile reads a rule-set file: a mapping from group name to a list
// of rules. Unknown keys are rejected.
func LoadRulesFile(path string) (map[string][]rules.RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Field: "rules_file", Reason: "cannot read rules file", Err: err}
	}

	dec := yamlv3.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var groups map[string][]rules.RuleSpec
	if err := dec.Decode(&groups); err != nil && !errors.Is(err, io.EOF) {
		return nil, &core.ConfigurationError{Field: "rules_file", Reason: "invalid rules file " + path, Err: err}
	}
	return groups, nil
}

// FindConfigFile finds the config file in the given directory.
// Returns empty string if not found.
func FindConfigFile(dir string) string {
	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}

	ymlPath := filepath.Join(dir, ConfigFileNameAlt)
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath
	}

	return ""
}

// FindProjectRoot walks up from the given directory to find a directory
// containing leapgate.yaml or leapgate.yml.
// Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if FindConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}
