// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
)

// DSNEnv is the variable SetupTestProject points the sqlite target at.
const DSNEnv = "LEAPGATE_TEST_DSN"

// ProjectConfig is the leapgate.yaml written by SetupTestProject.
const ProjectConfig = `name: event_stream
target:
  type: sqlite
  dsn_env: LEAPGATE_TEST_DSN
source:
  path: data/events.csv
  batch_size: 2
staging:
  table: stg_event_stream
published:
  table: fct_event_stream
columns:
  - name: user_id
  - name: event_type
  - name: miles_amount
    type: decimal(10,2)
rules:
  ACCEPT_VALUE_CHECK:
    - kind: enum_membership
      column: event_type
      allowed: [miles_earned, share]
  NULL_CHECK:
    - kind: not_null
      column: user_id
    - kind: not_null
      column: miles_amount
      scope: "event_type <> 'share'"
`

// GoodEvents passes every rule in ProjectConfig.
const GoodEvents = `user_id,event_type,miles_amount
u_0001,miles_earned,12.50
u_0002,share,
u_0003,miles_earned,300.00
`

// BadEvents fails ACCEPT_VALUE_CHECK and the scoped NULL_CHECK rule.
const BadEvents = `user_id,event_type,miles_amount
u_0001,miles_earned,
u_0002,like,
u_0003,miles_earned,300.00
`

// SetupTestProject creates a temporary leapgate project backed by a sqlite
// database file and returns its directory. The source holds events.
func SetupTestProject(t *testing.T, events string) string {
	t.Helper()

	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "data"), 0o755); err != nil {
		t.Fatalf("failed to create data directory: %v", err)
	}
	WriteProjectFile(t, tmpDir, "leapgate.yaml", ProjectConfig)
	WriteProjectFile(t, tmpDir, filepath.Join("data", "events.csv"), events)

	t.Setenv(DSNEnv, filepath.Join(tmpDir, "warehouse.db"))
	return tmpDir
}

// WriteProjectFile writes content to name inside dir.
func WriteProjectFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation: balanced code
// fences and no empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if fenceCount := strings.Count(md, "```"); fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
