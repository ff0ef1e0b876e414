package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapgate/internal/cli/config"
	"github.com/leapstack-labs/leapgate/internal/cli/testutil"
	"github.com/leapstack-labs/leapgate/internal/state"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapgate/pkg/gateways/sqlite"
)

// loadProject loads dir/leapgate.yaml the way the root command does.
func loadProject(t *testing.T, dir, outputMode string) *config.Config {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "", "")
	flags.String("state", "", "")
	require.NoError(t, flags.Set("output", outputMode))

	cfg, err := config.LoadConfig(filepath.Join(dir, "leapgate.yaml"), flags)
	require.NoError(t, err)
	return cfg
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewRunCommand(), "run", nil},
		{NewValidateCommand(), "validate", nil},
		{NewRulesCommand(), "rules", []string{"sql"}},
		{NewDAGCommand(), "dag", []string{"validate-only"}},
		{NewRunsCommand(), "runs [run-id]", []string{"limit", "all"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestCommands_NoConfig(t *testing.T) {
	config.ResetConfig()

	_, err := execute(t, NewRulesCommand())
	require.ErrorIs(t, err, errNoConfig)

	_, err = execute(t, NewRunCommand())
	require.ErrorIs(t, err, errNoConfig)
}

func TestRulesCommand_JSON(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "json")

	out, err := execute(t, NewRulesCommand())
	require.NoError(t, err)

	var infos []RuleInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 3)

	assert.Equal(t, "enum_membership.event_type", infos[0].ID)
	assert.Equal(t, "ACCEPT_VALUE_CHECK", infos[0].Group)
	assert.Equal(t, []any{"miles_earned", "share"}, infos[0].Args)
	assert.Equal(t, "not_null.user_id", infos[1].ID)
	assert.Equal(t, "not_null.miles_amount", infos[2].ID)
	assert.Equal(t, "event_type <> 'share'", infos[2].Scope)
	assert.Contains(t, infos[2].SQL, "SELECT COUNT(*) FROM")
}

func TestRulesCommand_Markdown(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "markdown")

	out, err := execute(t, NewRulesCommand(), "--sql")
	require.NoError(t, err)

	assert.Contains(t, out, "# Rules (3 total)")
	assert.Contains(t, out, "| Rule | Group | Scope |")
	assert.Contains(t, out, "## not_null.user_id")
	assert.Contains(t, out, "```sql")
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
}

func TestRulesCommand_CheckStaged(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.BadEvents)
	loadProject(t, dir, "json")

	_, err := execute(t, NewValidateCommand())
	require.Error(t, err)

	out, err := execute(t, NewRulesCommand(), "--check")
	var violation *core.DataViolation
	require.True(t, errors.As(err, &violation), "want DataViolation, got %v", err)
	assert.Equal(t, []string{"enum_membership.event_type", "not_null.miles_amount"}, violation.RuleIDs())

	var got RuleCheckOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "stg_event_stream", got.Staging)
	require.Len(t, got.Checks, 3)
	assert.Equal(t, 3, got.Summary.Total)
	assert.Equal(t, 1, got.Summary.Passed)
	assert.Equal(t, []string{"enum_membership.event_type", "not_null.miles_amount"}, got.Summary.Failing)
}

func TestRulesCommand_CheckStagedPasses(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "markdown")

	_, err := execute(t, NewValidateCommand())
	require.NoError(t, err)

	out, err := execute(t, NewRulesCommand(), "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "- **Status**: pass")
	assert.Contains(t, out, "- **Passed**: 3/3")
	testutil.AssertValidMarkdown(t, out)
}

func TestDAGCommand_JSON(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "json")

	out, err := execute(t, NewDAGCommand())
	require.NoError(t, err)

	var levels []DAGLevel
	require.NoError(t, json.Unmarshal([]byte(out), &levels))
	require.Len(t, levels, 5)

	assert.Equal(t, "create_staging", levels[0].Nodes[0].ID)
	assert.Len(t, levels[2].Nodes, 3)
	for _, n := range levels[2].Nodes {
		assert.Equal(t, []string{"load_staging"}, n.Parents)
		assert.Equal(t, []string{"create_published"}, n.Children)
	}
	assert.Equal(t, "promote", levels[4].Nodes[0].ID)
}

func TestDAGCommand_ValidateOnly(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "markdown")

	out, err := execute(t, NewDAGCommand(), "--validate-only")
	require.NoError(t, err)

	assert.Contains(t, out, "# Task Graph")
	assert.Contains(t, out, "- `dq.not_null.user_id` after load_staging")
	assert.Contains(t, out, "- **Total Tasks**: 5")
	assert.NotContains(t, out, "promote")
}

func TestRunCommand_Commits(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	cfg := loadProject(t, dir, "json")

	out, err := execute(t, NewRunCommand())
	require.NoError(t, err)

	var res struct {
		RunID string        `json:"run_id"`
		State core.RunState `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, core.RunStateCommitted, res.State)
	assert.NotEmpty(t, res.RunID)

	store, err := state.Open(context.Background(), cfg.StatePath, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), run.RowsPromoted)
}

func TestRunCommand_DataViolation(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.BadEvents)
	loadProject(t, dir, "markdown")

	out, err := execute(t, NewRunCommand())
	require.Error(t, err)

	var violation *core.DataViolation
	require.True(t, errors.As(err, &violation), "want DataViolation, got %v", err)
	assert.Equal(t, []string{"enum_membership.event_type", "not_null.miles_amount"}, violation.RuleIDs())

	assert.Contains(t, out, "- **State**: ABORTED")
	assert.Contains(t, out, "## Checks")
	testutil.AssertValidMarkdown(t, out)
}

func TestValidateCommand_DoesNotPromote(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "markdown")

	out, err := execute(t, NewValidateCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "- **State**: PASSED")
	assert.NotContains(t, out, "Rows Promoted")
}

func TestRunsCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "json")

	_, err := execute(t, NewRunCommand())
	require.NoError(t, err)
	_, err = execute(t, NewValidateCommand())
	require.NoError(t, err)

	out, err := execute(t, NewRunsCommand())
	require.NoError(t, err)

	var runs []RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "event_stream", r.Pipeline)
	}

	out, err = execute(t, NewRunsCommand(), runs[0].ID)
	require.NoError(t, err)

	var detail struct {
		Run   RunSummary       `json:"run"`
		Tasks []TaskRunSummary `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, runs[0].ID, detail.Run.ID)
	assert.NotEmpty(t, detail.Tasks)
}

func TestRunsCommand_UnknownRun(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "json")

	_, err := execute(t, NewRunsCommand(), "missing")
	require.ErrorIs(t, err, state.ErrRunNotFound)
}
