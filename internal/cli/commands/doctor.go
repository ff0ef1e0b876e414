package commands

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/state"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/spf13/cobra"
)

// Health check statuses.
const (
	checkPass  = "pass"
	checkWarn  = "warn"
	checkError = "error"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that a run can start",
		Long: `Verify everything a run depends on without loading or promoting data:

- Configuration: rules compile against the staging columns
- Source: the file is reachable and its header matches the declared columns
- Target: the warehouse accepts connections
- State: the run history store opens and is migrated

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run health check
  leapgate doctor

  # Output as JSON
  leapgate doctor --output json`,
		RunE: runDoctor,
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Pipeline        string        `json:"pipeline"`
	HealthChecks    []HealthCheck `json:"health_checks"`
	Score           int           `json:"score"`
	Recommendations []string      `json:"recommendations"`
	IssueCount      int           `json:"issue_count"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	Status string `json:"status"` // "pass", "warn", "error"
	Detail string `json:"detail,omitempty"`
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cmdCtx, err := NewOfflineContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	out := buildDoctorOutput(cmd.Context(), cmdCtx)

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}

	for _, c := range out.HealthChecks {
		if c.Status == checkError {
			return fmt.Errorf("doctor found %d problem(s)", out.IssueCount)
		}
	}
	return nil
}

func buildDoctorOutput(ctx context.Context, cc *CommandContext) *DoctorOutput {
	checks := []HealthCheck{
		checkRules(cc),
		checkSource(ctx, cc),
		checkTarget(ctx, cc),
	}
	checks = append(checks, checkState(ctx, cc)...)

	issues := 0
	for _, c := range checks {
		if c.Status != checkPass {
			issues++
		}
	}

	return &DoctorOutput{
		Pipeline:        cc.Cfg.Name,
		HealthChecks:    checks,
		Score:           calculateHealthScore(checks),
		Recommendations: generateRecommendations(checks),
		IssueCount:      issues,
	}
}

func checkRules(cc *CommandContext) HealthCheck {
	hc := HealthCheck{ID: "config.rules", Name: "Rules compile", Group: "configuration", Status: checkPass}
	def := cc.Pipeline.Definition()
	n := len(cc.Pipeline.Checks())
	if n == 0 {
		hc.Status = checkWarn
		hc.Detail = "no rules declared; every batch is promoted"
		return hc
	}
	hc.Detail = fmt.Sprintf("%d rules in %d groups", n, len(def.Rules.Groups()))
	return hc
}

func checkSource(ctx context.Context, cc *CommandContext) HealthCheck {
	hc := HealthCheck{ID: "source.header", Name: "Source readable", Group: "source", Status: checkPass}
	if err := cc.Pipeline.ProbeSource(ctx); err != nil {
		hc.Status = checkError
		hc.Detail = err.Error()
		return hc
	}
	hc.Detail = cc.Cfg.Source.Path
	return hc
}

func checkTarget(ctx context.Context, cc *CommandContext) HealthCheck {
	hc := HealthCheck{ID: "target.connect", Name: "Warehouse reachable", Group: "target", Status: checkPass}
	gwCfg, err := cc.Cfg.Target.GatewayConfig()
	if err != nil {
		hc.Status = checkError
		hc.Detail = err.Error()
		return hc
	}
	gw, err := gateway.Open(ctx, gwCfg, cc.Logger)
	if err != nil {
		hc.Status = checkError
		hc.Detail = err.Error()
		return hc
	}
	defer func() { _ = gw.Close() }()

	if _, err := gw.QueryCount(ctx, "SELECT 1"); err != nil {
		hc.Status = checkError
		hc.Detail = err.Error()
		return hc
	}
	hc.Detail = gwCfg.Type
	return hc
}

func checkState(ctx context.Context, cc *CommandContext) []HealthCheck {
	open := HealthCheck{ID: "state.open", Name: "State store", Group: "state", Status: checkPass}
	store, err := state.Open(ctx, cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		open.Status = checkError
		open.Detail = err.Error()
		return []HealthCheck{open}
	}
	defer func() { _ = store.Close() }()

	if v, err := store.MigrationVersion(ctx); err == nil {
		open.Detail = fmt.Sprintf("%s (schema v%d)", store.Path(), v)
	}

	last := HealthCheck{ID: "state.last_run", Name: "Last run", Group: "state", Status: checkPass}
	runs, err := store.ListRuns(ctx, cc.Cfg.Name, 1)
	switch {
	case err != nil:
		last.Status = checkWarn
		last.Detail = err.Error()
	case len(runs) == 0:
		last.Detail = "no runs yet"
	default:
		run := runs[0]
		last.Detail = fmt.Sprintf("%s %s", run.ID, run.State)
		if run.State == core.RunStateAborted {
			last.Status = checkWarn
			if run.Error != "" {
				last.Detail += ": " + run.Error
			}
		}
	}
	return []HealthCheck{open, last}
}

// calculateHealthScore computes a score from 0-100. Errors cost 25 points,
// warnings 10.
func calculateHealthScore(checks []HealthCheck) int {
	score := 100
	for _, check := range checks {
		switch check.Status {
		case checkError:
			score -= 25
		case checkWarn:
			score -= 10
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// generateRecommendations creates actionable recommendations based on findings.
func generateRecommendations(checks []HealthCheck) []string {
	var recommendations []string
	seen := make(map[string]bool)

	for _, check := range checks {
		if check.Status == checkPass {
			continue
		}
		rec := getRecommendation(check.ID)
		if rec != "" && !seen[rec] {
			recommendations = append(recommendations, rec)
			seen[rec] = true
		}
	}
	return recommendations
}

// getRecommendation returns a recommendation for a specific check.
func getRecommendation(checkID string) string {
	switch checkID {
	case "config.rules":
		return "Declare rules (or rules_file) so bad batches are kept out of the published table"
	case "source.header":
		return "Make the source header match the declared columns, or fix source.path"
	case "target.connect":
		return "Export the DSN named by target.dsn_env and check the warehouse is reachable"
	case "state.open":
		return "Point state_path (or --state) at a writable location"
	case "state.last_run":
		return "Inspect the last aborted run with 'leapgate runs <run-id>'"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println(styles.Header1.Render("leapgate Health Report"))
	r.Println(styles.Muted.Render("pipeline " + out.Pipeline))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render(titleCaser.String(currentGroup)))
		}

		icon := styles.Success.Render("✓")
		switch check.Status {
		case checkWarn:
			icon = styles.Warning.Render("!")
		case checkError:
			icon = styles.Error.Render("✗")
		}
		line := fmt.Sprintf("  %s %s", icon, check.Name)
		if check.Detail != "" {
			line += "  " + styles.Muted.Render(check.Detail)
		}
		r.Println(line)
	}
	r.Println("")

	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))

	if len(out.Recommendations) > 0 {
		r.Println("")
		r.Println(styles.Header2.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("  %d. %s\n", i+1, rec)
		}
	}
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println(output.FormatHeader(1, "leapgate Health Report"))
	r.Println("")
	r.Println(output.FormatKeyValue("Pipeline", out.Pipeline))
	r.Println(output.FormatKeyValue("Health Score", fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(output.FormatHeader(2, titleCaser.String(currentGroup)))
			r.Println("")
		}
		line := fmt.Sprintf("- **[%s]** %s", strings.ToUpper(check.Status), check.Name)
		if check.Detail != "" {
			line += ": " + check.Detail
		}
		r.Println(line)
	}
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(output.FormatHeader(2, "Recommendations"))
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
	}
}
