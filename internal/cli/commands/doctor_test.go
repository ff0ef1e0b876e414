package commands

import (
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/leapgate/internal/cli/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHealthScore(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		want   int
	}{
		{"no checks", nil, 100},
		{"all passing", []HealthCheck{{Status: checkPass}, {Status: checkPass}}, 100},
		{"one warning", []HealthCheck{{Status: checkPass}, {Status: checkWarn}}, 90},
		{"error and warning", []HealthCheck{{Status: checkError}, {Status: checkWarn}}, 65},
		{"clamped at zero", []HealthCheck{{Status: checkError}, {Status: checkError}, {Status: checkError}, {Status: checkError}, {Status: checkError}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateHealthScore(tt.checks))
		})
	}
}

func TestGenerateRecommendations(t *testing.T) {
	checks := []HealthCheck{
		{ID: "config.rules", Status: checkWarn},
		{ID: "source.header", Status: checkPass},
		{ID: "target.connect", Status: checkError},
		{ID: "unknown", Status: checkError},
	}

	recs := generateRecommendations(checks)
	require.Len(t, recs, 2)
	assert.Equal(t, getRecommendation("config.rules"), recs[0])
	assert.Equal(t, getRecommendation("target.connect"), recs[1])
	assert.Empty(t, getRecommendation("unknown"))
}

func TestDoctorCommand_Healthy(t *testing.T) {
	dir := testutil.SetupTestProject(t, testutil.GoodEvents)
	loadProject(t, dir, "json")

	out, err := execute(t, NewDoctorCommand())
	require.NoError(t, err)

	var report DoctorOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "event_stream", report.Pipeline)
	assert.Equal(t, 100, report.Score)
	assert.Zero(t, report.IssueCount)

	ids := make([]string, 0, len(report.HealthChecks))
	for _, c := range report.HealthChecks {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"config.rules", "source.header", "target.connect", "state.open", "state.last_run"}, ids)
}

func TestDoctorCommand_BadSourceHeader(t *testing.T) {
	dir := testutil.SetupTestProject(t, "user_id,event_type\nu_0001,share\n")
	loadProject(t, dir, "markdown")

	out, err := execute(t, NewDoctorCommand())
	require.Error(t, err)
	assert.Contains(t, out, "- **[ERROR]** Source readable")
	assert.Contains(t, out, "## Recommendations")
	testutil.AssertValidMarkdown(t, out)
}
