// Package rules defines data-quality rule specifications and compiles them
// into parameterised COUNT queries against a staging table.
package rules

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/core"
)

// Kind is the closed set of rule kinds.
type Kind string

// Rule kinds.
const (
	KindNotNull        Kind = "not_null"
	KindEnumMembership Kind = "enum_membership"
	KindFormatMatch    Kind = "format_match"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindNotNull, KindEnumMembership, KindFormatMatch}

// RuleSpec declares one data-quality rule on one column.
type RuleSpec struct {
	Kind   Kind   `yaml:"kind" koanf:"kind"`
	Column string `yaml:"column" koanf:"column"`
	// Scope restricts the rows the rule applies to, e.g. "event_type NOT IN ('share','like')".
	Scope string `yaml:"scope,omitempty" koanf:"scope"`

	// Allowed is required for enum_membership.
	Allowed []string `yaml:"allowed,omitempty" koanf:"allowed"`

	// Exactly one of Pattern, Mask or Format is required for format_match.
	Pattern string `yaml:"pattern,omitempty" koanf:"pattern"`
	Mask    string `yaml:"mask,omitempty" koanf:"mask"`
	Format  string `yaml:"format,omitempty" koanf:"format"`
}

// ID returns the rule id "<kind>.<column>".
func (s RuleSpec) ID() string {
	return string(s.Kind) + "." + s.Column
}

// Validate checks the spec in isolation, without a target table.
// field is the configuration path used in error messages.
func (s RuleSpec) Validate(field string) error {
	if strings.TrimSpace(s.Column) == "" {
		return core.NewConfigurationError(field+".column", "column is required")
	}

	switch s.Kind {
	case KindNotNull:
		if len(s.Allowed) > 0 || s.hasFormat() {
			return core.NewConfigurationError(field, "not_null takes no allowed/pattern/mask/format")
		}
	case KindEnumMembership:
		if len(s.Allowed) == 0 {
			return core.NewConfigurationError(field+".allowed", "enum_membership requires a non-empty allowed set")
		}
		if s.hasFormat() {
			return core.NewConfigurationError(field, "enum_membership takes no pattern/mask/format")
		}
	case KindFormatMatch:
		if len(s.Allowed) > 0 {
			return core.NewConfigurationError(field+".allowed", "format_match takes no allowed set")
		}
		if _, err := ResolvePattern(s); err != nil {
			return &core.ConfigurationError{Field: field, Reason: "invalid format", Err: err}
		}
	case "":
		return core.NewConfigurationError(field+".kind", "kind is required")
	default:
		return core.NewConfigurationError(field+".kind", "unsupported kind %q (want one of %v)", s.Kind, Kinds)
	}

	if s.Scope != "" {
		if _, err := ParseScope(s.Scope); err != nil {
			return &core.ConfigurationError{Field: field + ".scope", Reason: "invalid scope", Err: err}
		}
	}
	return nil
}

func (s RuleSpec) hasFormat() bool {
	return s.Pattern != "" || s.Mask != "" || s.Format != ""
}

// allowedValues returns Allowed with duplicates removed, order kept.
func (s RuleSpec) allowedValues() []string {
	out := make([]string, 0, len(s.Allowed))
	seen := make(map[string]struct{}, len(s.Allowed))
	for _, v := range s.Allowed {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s RuleSpec) String() string {
	return fmt.Sprintf("%s(%s)", s.Kind, s.Column)
}
