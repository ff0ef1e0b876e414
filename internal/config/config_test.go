package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapgate/pkg/gateways/sqlite"
)

const projectYAML = `
name: event_stream
target:
  type: SQLite
  dsn_env: EVENTS_DSN
  query_timeout: 30s
source:
  path: data/events.csv
  delimiter: ";"
  empty_as_null: false
staging:
  table: stg_event_stream
  ddl_file: ddl/staging.sql
published:
  table: fct_event_stream
  mode: Replace
  predicate: "event_type <> 'share'"
columns:
  - name: event_time
    type: timestamp
  - name: user_id
  - name: miles_amount
    target: miles
    type: decimal(10,2)
rules:
  ACCEPT_VALUE_CHECK:
    - kind: enum_membership
      column: event_type
      allowed: [view, share]
  NULL_CHECK:
    - kind: not_null
      column: user_id
execution:
  concurrency: 2
  retries: 3
  backoff: 50ms
  stop_on_first_failure: true
`

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return dir
}

func TestLoadFromDir(t *testing.T) {
	dir := writeProject(t, projectYAML)

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "event_stream", cfg.Name)
	assert.Equal(t, "sqlite", cfg.Target.Type)
	assert.Equal(t, "EVENTS_DSN", cfg.Target.DSNEnv)
	assert.Equal(t, 30*time.Second, cfg.Target.QueryTimeout)
	assert.Equal(t, filepath.Join(dir, "data/events.csv"), cfg.Source.Path)
	assert.Equal(t, filepath.Join(dir, "ddl/staging.sql"), cfg.Staging.DDLFile)
	assert.Equal(t, "replace", cfg.Staging.LoadMode)
	assert.Equal(t, "replace", cfg.Published.Mode)
	assert.Len(t, cfg.Columns, 3)
	assert.Len(t, cfg.Rules, 2)
	assert.Equal(t, 50*time.Millisecond, cfg.Execution.Backoff)
	require.NoError(t, cfg.Target.Validate())
}

func TestLoadFromDir_NoConfig(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestProjectConfig_Definition(t *testing.T) {
	cfg, err := LoadFromDir(writeProject(t, projectYAML))
	require.NoError(t, err)

	def, err := cfg.Definition()
	require.NoError(t, err)

	assert.Equal(t, "event_stream", def.Name)
	assert.Equal(t, ';', def.Source.Delimiter)
	assert.False(t, def.Source.EmptyAsNull)
	assert.Equal(t, gateway.LoadModeReplace, def.StagingLoadMode)
	assert.Equal(t, gateway.LoadModeReplace, def.PublishMode)
	assert.Equal(t, "event_type <> 'share'", def.Predicate)
	assert.Equal(t, 2, def.Execution.Concurrency)
	assert.True(t, def.Execution.StopOnFirstFailure)

	require.Len(t, def.Columns, 3)
	assert.Equal(t, gateway.CastTimestamp, def.Columns[0].Cast.Kind)
	assert.Equal(t, gateway.CastText, def.Columns[1].Cast.Kind)
	assert.Equal(t, "miles", def.Columns[2].TargetName())
	assert.Equal(t, 10, def.Columns[2].Cast.Precision)

	assert.Equal(t, []string{"enum_membership.event_type", "not_null.user_id"}, def.Rules.IDs())
}

func TestProjectConfig_DefinitionErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProjectConfig)
		fields []string
	}{
		{
			name: "bad column type",
			mutate: func(c *ProjectConfig) {
				c.Columns[0].Type = "money"
			},
			fields: []string{"columns[0].type"},
		},
		{
			name: "multi character delimiter",
			mutate: func(c *ProjectConfig) {
				c.Source.Delimiter = "||"
			},
			fields: []string{"source.delimiter"},
		},
		{
			name: "empty allowed set and duplicate rule",
			mutate: func(c *ProjectConfig) {
				c.Rules = map[string][]rules.RuleSpec{
					"A": {{Kind: rules.KindEnumMembership, Column: "platform"}},
					"B": {
						{Kind: rules.KindNotNull, Column: "user_id"},
						{Kind: rules.KindNotNull, Column: "user_id"},
					},
				}
			},
			fields: []string{"rules.A[0].allowed", "rules.B[1]"},
		},
		{
			name: "inline rules and rules file",
			mutate: func(c *ProjectConfig) {
				c.RulesFile = "rules.yaml"
			},
			fields: []string{"rules_file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromDir(writeProject(t, projectYAML))
			require.NoError(t, err)
			tt.mutate(cfg)

			_, err = cfg.Definition()
			require.Error(t, err)
			assert.True(t, core.IsConfiguration(err))
			for _, f := range tt.fields {
				assert.Contains(t, err.Error(), f)
			}
		})
	}
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
FORMAT_CHECK:
  - kind: format_match
    column: user_id
    mask: "u_####"
NULL_CHECK:
  - kind: not_null
    column: miles_amount
    scope: "event_type = 'miles_earned'"
`), 0o600))

	groups, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, groups["FORMAT_CHECK"], 1)
	assert.Equal(t, "u_####", groups["FORMAT_CHECK"][0].Mask)
	assert.Equal(t, "event_type = 'miles_earned'", groups["NULL_CHECK"][0].Scope)
}

func TestLoadRulesFile_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ACCEPT_VALUE_CHECK:
  - kind: enum_membership
    column: platform
    allowd: [ios, android]
`), 0o600))

	_, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
	assert.Contains(t, err.Error(), "allowd")
}

func TestProjectConfig_RulesFile(t *testing.T) {
	dir := writeProject(t, `
name: p
source:
  path: events.csv
staging:
  table: stg
published:
  table: pub
columns:
  - name: platform
rules_file: quality/rules.yaml
`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "quality"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quality", "rules.yaml"), []byte(`
ACCEPT_VALUE_CHECK:
  - kind: enum_membership
    column: platform
    allowed: [ios, android]
`), 0o600))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetType, cfg.Target.Type)
	assert.Equal(t, DefaultDSNEnv, cfg.Target.DSNEnv)

	def, err := cfg.Definition()
	require.NoError(t, err)
	assert.Equal(t, []string{"enum_membership.platform"}, def.Rules.IDs())
	assert.Equal(t, ',', def.Source.Delimiter)
	assert.True(t, def.Source.EmptyAsNull)
}

func TestTargetConfig_Validate(t *testing.T) {
	assert.True(t, core.IsConfiguration((&TargetConfig{}).Validate()))

	err := (&TargetConfig{Type: "oracle"}).Validate()
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
	var unknown *gateway.UnknownGatewayError
	assert.ErrorAs(t, err, &unknown)

	assert.NoError(t, (&TargetConfig{Type: "sqlite"}).Validate())
}

func TestTargetConfig_GatewayConfig(t *testing.T) {
	target := &TargetConfig{Type: "sqlite", DSNEnv: "LEAPGATE_TEST_DSN", QueryTimeout: time.Second}

	t.Setenv("LEAPGATE_TEST_DSN", "")
	_, err := target.GatewayConfig()
	assert.True(t, core.IsConfiguration(err))

	t.Setenv("LEAPGATE_TEST_DSN", ":memory:")
	gc, err := target.GatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", gc.DSN)
	assert.Equal(t, time.Second, gc.QueryTimeout)
}

func TestFindProjectRoot(t *testing.T) {
	dir := writeProject(t, "name: p\n")
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	assert.Equal(t, dir, FindProjectRoot(nested))
}

func TestExampleProject(t *testing.T) {
	cfg, err := LoadFromDir(filepath.Join("..", "cli", "commands", "templates", "example"))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, "append", cfg.Published.Mode)

	def, err := cfg.Definition()
	require.NoError(t, err)
	assert.Len(t, def.Columns, 8)
	assert.Len(t, def.Rules.IDs(), 15)
	assert.Equal(t, "enum_membership.event_type", def.Rules.IDs()[0])
}
