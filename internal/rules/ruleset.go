package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapgate/pkg/core"
)

// Group is a named list of rules, e.g. NULL_CHECK.
type Group struct {
	Name  string
	Rules []RuleSpec
}

// RuleSet is an immutable collection of rule groups. Groups are ordered by
// name and rules keep their declaration order.
type RuleSet struct {
	groups []Group
	size   int
}

// NewRuleSet validates groups and builds a RuleSet. Every problem is reported,
// joined into one error. A (kind, column) pair may appear only once in the set.
func NewRuleSet(groups map[string][]RuleSpec) (*RuleSet, error) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	seen := make(map[string]string)
	rs := &RuleSet{}

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, core.NewConfigurationError("rules", "group name must not be empty"))
			continue
		}
		specs := groups[name]
		g := Group{Name: name, Rules: make([]RuleSpec, len(specs))}
		copy(g.Rules, specs)

		for i, spec := range specs {
			field := fmt.Sprintf("rules.%s[%d]", name, i)
			if err := spec.Validate(field); err != nil {
				errs = append(errs, err)
				continue
			}
			id := spec.ID()
			if prev, ok := seen[id]; ok {
				errs = append(errs, core.NewConfigurationError(field, "duplicate rule %s (already declared at %s)", id, prev))
				continue
			}
			seen[id] = field
		}

		rs.groups = append(rs.groups, g)
		rs.size += len(specs)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}

// MustRuleSet is like NewRuleSet but panics on error. Intended for tests.
func MustRuleSet(groups map[string][]RuleSpec) *RuleSet {
	rs, err := NewRuleSet(groups)
	if err != nil {
		panic(err)
	}
	return rs
}

// Groups returns the groups in evaluation order.
func (rs *RuleSet) Groups() []Group {
	if rs == nil {
		return nil
	}
	out := make([]Group, len(rs.groups))
	for i, g := range rs.groups {
		out[i] = Group{Name: g.Name, Rules: append([]RuleSpec(nil), g.Rules...)}
	}
	return out
}

// Len returns the total number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return rs.size
}

// IDs returns every rule id in evaluation order.
func (rs *RuleSet) IDs() []string {
	if rs == nil {
		return nil
	}
	ids := make([]string, 0, rs.size)
	for _, g := range rs.groups {
		for _, r := range g.Rules {
			ids = append(ids, r.ID())
		}
	}
	return ids
}
