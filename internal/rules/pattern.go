package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Named formats. Digit classes are spelled [0-9] so every engine agrees.
var namedFormats = map[string]string{
	"timestamp_micros": `^[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}\.[0-9]{6}$`,
	"timestamp":        `^[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}$`,
	"date":             `^[0-9]{4}-[0-9]{2}-[0-9]{2}$`,
	"iso8601":          `^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}(\.[0-9]+)?(Z|[+-][0-9]{2}:[0-9]{2})?$`,
}

// FormatNames returns the supported named formats, sorted.
func FormatNames() []string {
	names := make([]string, 0, len(namedFormats))
	for n := range namedFormats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolvePattern returns the anchored regular expression a format_match rule
// tests against. Exactly one of Pattern, Mask or Format must be set.
func ResolvePattern(s RuleSpec) (string, error) {
	set := 0
	for _, v := range []string{s.Pattern, s.Mask, s.Format} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return "", errors.New("one of pattern, mask or format is required")
	case set > 1:
		return "", errors.New("pattern, mask and format are mutually exclusive")
	}

	switch {
	case s.Format != "":
		p, ok := namedFormats[strings.ToLower(s.Format)]
		if !ok {
			return "", fmt.Errorf("unknown format %q (want one of %v)", s.Format, FormatNames())
		}
		return p, nil
	case s.Mask != "":
		return MaskToPattern(s.Mask)
	default:
		return anchor(s.Pattern)
	}
}

// MaskToPattern converts an identifier mask into an anchored regex.
// '#' matches a digit, '@' an ASCII letter, anything else is literal:
// "u_####" becomes ^u_[0-9]{4}$.
func MaskToPattern(mask string) (string, error) {
	if mask == "" {
		return "", errors.New("mask must not be empty")
	}

	var b strings.Builder
	b.WriteString("^")
	runes := []rune(mask)
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i
		for j < len(runes) && runes[j] == r {
			j++
		}
		n := j - i
		switch r {
		case '#':
			writeClass(&b, "[0-9]", n)
		case '@':
			writeClass(&b, "[A-Za-z]", n)
		default:
			b.WriteString(regexp.QuoteMeta(strings.Repeat(string(r), n)))
		}
		i = j
	}
	b.WriteString("$")
	return b.String(), nil
}

func writeClass(b *strings.Builder, class string, n int) {
	b.WriteString(class)
	if n > 1 {
		fmt.Fprintf(b, "{%d}", n)
	}
}

// anchor validates p and makes it match whole values.
func anchor(p string) (string, error) {
	if _, err := regexp.Compile(p); err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	return "^(?:" + p + ")$", nil
}
