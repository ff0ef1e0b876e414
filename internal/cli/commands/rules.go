package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/quality"
	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/spf13/cobra"
)

// RulesOptions holds options for the rules command.
type RulesOptions struct {
	ShowSQL bool
	Check   bool
}

// RuleInfo is the JSON shape of one compiled rule.
type RuleInfo struct {
	ID     string `json:"id"`
	Group  string `json:"group"`
	Kind   string `json:"kind"`
	Column string `json:"column"`
	Scope  string `json:"scope,omitempty"`
	SQL    string `json:"sql"`
	Args   []any  `json:"args,omitempty"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	opts := &RulesOptions{}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the compiled data-quality rules",
		Long: `Compile every rule against the staging table and list them in
evaluation order. Compilation problems (unknown columns, empty allowed sets,
bad patterns) are reported as configuration errors without touching the
database.`,
		Example: `  # List rules
  leapgate rules

  # Include the COUNT query each rule runs
  leapgate rules --sql

  # Re-evaluate the rules against what is currently staged
  leapgate rules --check`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRules(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowSQL, "sql", false, "Show the compiled COUNT query of each rule")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "Evaluate the rules against the current staging table without loading or promoting")
	return cmd
}

func runRules(cmd *cobra.Command, opts *RulesOptions) error {
	if opts.Check {
		return runRulesCheck(cmd)
	}
	cmdCtx, err := NewOfflineContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer
	checks := cmdCtx.Pipeline.Checks()

	switch r.EffectiveMode() {
	case output.ModeJSON:
		infos := make([]RuleInfo, 0, len(checks))
		for _, c := range checks {
			infos = append(infos, ruleInfo(c))
		}
		return r.JSON(infos)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, fmt.Sprintf("Rules (%d total)", len(checks))))
		r.Println()
	default:
		r.Header(1, fmt.Sprintf("Rules (%d total)", len(checks)))
	}

	if len(checks) == 0 {
		r.Muted("No rules declared; every run passes the gate.")
		return nil
	}

	tw := r.Table("Rule", "Group", "Scope")
	for _, c := range checks {
		tw.AppendRow([]any{c.ID, c.Group, c.Spec.Scope})
	}
	r.RenderTable(tw)

	if opts.ShowSQL {
		for _, c := range checks {
			r.Println()
			if r.EffectiveMode() == output.ModeMarkdown {
				r.Println(output.FormatHeader(2, c.ID))
				r.Println()
				r.Printf("```sql\n%s\n```\n", c.SQL)
				continue
			}
			r.Println(r.Styles().ID.Render(c.ID))
			r.Printf("  %s\n", c.SQL)
			if len(c.Args) > 0 {
				r.Printf("  %s %s\n", r.Styles().Muted.Render("args:"), formatArgs(c.Args))
			}
		}
	}
	return nil
}

// RuleCheckOutput is the JSON output of rules --check.
type RuleCheckOutput struct {
	Pipeline string             `json:"pipeline"`
	Staging  string             `json:"staging"`
	Checks   []core.CheckResult `json:"checks"`
	Summary  quality.Summary    `json:"summary"`
}

func runRulesCheck(cmd *cobra.Command) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	r := cmdCtx.Renderer

	results, summary := cmdCtx.Pipeline.CheckStaging(cmd.Context())
	out := RuleCheckOutput{
		Pipeline: cmdCtx.Cfg.Name,
		Staging:  cmdCtx.Pipeline.Definition().Staging.Name,
		Checks:   results,
		Summary:  summary,
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if err := r.JSON(out); err != nil {
			return err
		}
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Rule Check: "+out.Staging))
		r.Println()
		r.Println(output.FormatKeyValue("Status", summary.Status()))
		r.Println(output.FormatKeyValue("Passed", fmt.Sprintf("%d/%d", summary.Passed, summary.Total)))
		r.Println()
		renderRuleResults(r, results)
	default:
		r.Header(1, "Rule Check: "+out.Staging)
		renderRuleResults(r, results)
		r.Println()
		icon, style := r.Styles().Status(string(summary.Status()))
		r.Printf("%s %d/%d passed\n", style.Render(icon), summary.Passed, summary.Total)
	}

	if v := summary.Violation(); v != nil {
		return v
	}
	return nil
}

func renderRuleResults(r *output.Renderer, results []core.CheckResult) {
	tw := r.Table("Rule", "Status", "Violations", "Attempts")
	for _, res := range results {
		status := "pass"
		switch {
		case res.Error != "":
			status = "error"
		case !res.Passed:
			status = "fail"
		}
		tw.AppendRow([]any{res.RuleID, status, res.ViolationCount, res.Attempts})
	}
	r.RenderTable(tw)
}

func ruleInfo(c *rules.Check) RuleInfo {
	return RuleInfo{
		ID:     c.ID,
		Group:  c.Group,
		Kind:   string(c.Spec.Kind),
		Column: c.Spec.Column,
		Scope:  c.Spec.Scope,
		SQL:    c.SQL,
		Args:   c.Args,
	}
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%q", fmt.Sprint(a))
	}
	return strings.Join(parts, ", ")
}
