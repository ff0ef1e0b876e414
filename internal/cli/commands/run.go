package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/pipeline"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load, validate and promote one batch",
		Long: `Run the pipeline once: recreate the staging table, load the source
into it, evaluate every data-quality rule, and promote the staged rows into
the published table in a single transaction if and only if all rules pass.

Exit codes:
  0  run committed
  2  run aborted by a data-quality violation (failed rule ids are printed)
  3  configuration error
  1  any other failure`,
		Example: `  # Run the pipeline in ./leapgate.yaml
  leapgate run

  # Run against the ci environment with JSON output for CI/CD integration
  leapgate run --target ci --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.RunOptions{})
		},
	}
	return cmd
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the staging table and evaluate rules without promoting",
		Long: `Recreate and load the staging table, then evaluate every rule.
Nothing is written to the published table. The run ends in PASSED when every
rule holds and in ABORTED otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.RunOptions{ValidateOnly: true})
		},
	}
}

func runPipeline(cmd *cobra.Command, opts pipeline.RunOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res, runErr := cmdCtx.Pipeline.Run(cmd.Context(), opts)
	if res == nil {
		return runErr
	}

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(res); err != nil {
			return err
		}
	case output.ModeMarkdown:
		runMarkdown(r, res)
	default:
		runText(r, res)
	}
	return runErr
}

// runText outputs a run result in styled text format.
func runText(r *output.Renderer, res *pipeline.Result) {
	styles := r.Styles()

	r.Header(1, fmt.Sprintf("Run %s", res.RunID))
	r.Println(styles.Muted.Render("pipeline " + res.Pipeline))
	r.Println()

	for _, t := range res.Tasks {
		r.StatusLine(t.ID, string(t.Status), taskDetail(res, t))
	}
	r.Println()

	if len(res.Checks) > 0 {
		r.RenderTable(checksTable(r, res.Checks))
		r.Println()
	}

	icon, style := styles.Status(string(res.State))
	r.Printf("%s %s in %s\n", style.Render(icon), styles.Bold.Render(string(res.State)), res.Duration.Round(time.Millisecond))
	if res.Promotion != nil {
		r.Muted(fmt.Sprintf("%d rows promoted into %s", res.Promotion.Rows, res.Promotion.Table))
	}
}

// runMarkdown outputs a run result in markdown format.
func runMarkdown(r *output.Renderer, res *pipeline.Result) {
	r.Println(output.FormatHeader(1, "Run "+res.RunID))
	r.Println()
	r.Println(output.FormatKeyValue("Pipeline", res.Pipeline))
	r.Println(output.FormatKeyValue("State", res.State))
	r.Println(output.FormatKeyValue("Duration", res.Duration.Round(time.Millisecond)))
	if res.Load != nil {
		r.Println(output.FormatKeyValue("Rows Loaded", res.Load.Rows))
	}
	if res.Promotion != nil {
		r.Println(output.FormatKeyValue("Rows Promoted", res.Promotion.Rows))
	}
	if res.Error != "" {
		r.Println(output.FormatKeyValue("Error", res.Error))
	}
	r.Println()

	r.Println(output.FormatHeader(2, "Tasks"))
	r.Println()
	tw := r.Table("Task", "Status", "Attempts", "Detail")
	for _, t := range res.Tasks {
		tw.AppendRow([]any{t.ID, t.Status, t.Attempts, taskDetail(res, t)})
	}
	r.RenderTable(tw)

	if len(res.Checks) > 0 {
		r.Println(output.FormatHeader(2, "Checks"))
		r.Println()
		r.RenderTable(checksTable(r, res.Checks))
	}
}

func checksTable(r *output.Renderer, checks []core.CheckResult) table.Writer {
	tw := r.Table("Rule", "Group", "Status", "Violations", "Attempts")
	for _, c := range checks {
		status := checkStatus(c)
		if c.AfterDecision {
			status += " (after decision)"
		}
		tw.AppendRow([]any{c.RuleID, c.Group, status, c.ViolationCount, c.Attempts})
	}
	return tw
}

func taskDetail(res *pipeline.Result, t pipeline.TaskOutcome) string {
	if t.Error != "" {
		return t.Error
	}
	switch t.Kind {
	case core.TaskKindLoadStaging:
		if res.Load != nil {
			return fmt.Sprintf("%d rows in %d batches", res.Load.Rows, res.Load.Batches)
		}
	case core.TaskKindPromote:
		if res.Promotion != nil {
			return fmt.Sprintf("%d rows", res.Promotion.Rows)
		}
	case core.TaskKindCheck:
		for _, c := range res.Checks {
			if pipeline.CheckPrefix+c.RuleID == t.ID {
				return fmt.Sprintf("%d violating rows", c.ViolationCount)
			}
		}
	}
	if t.Duration > 0 {
		return t.Duration.Round(time.Millisecond).String()
	}
	return ""
}

func checkStatus(c core.CheckResult) string {
	switch {
	case c.Error != "":
		return "error"
	case c.Passed:
		return "passed"
	default:
		return "failed"
	}
}
