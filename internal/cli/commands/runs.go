package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/state"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/spf13/cobra"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
	All   bool
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show run history from the state store",
		Long: `List recent runs of this pipeline, newest first. With a run id, show
the tasks of that run with their status, attempts and violation counts.`,
		Example: `  # Last 20 runs
  leapgate runs

  # Tasks of one run
  leapgate runs 6f1c0e2a-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			return runListRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Include runs of every pipeline sharing the state store")
	return cmd
}

// RunSummary is the JSON shape of one run in the history.
type RunSummary struct {
	ID           string     `json:"id"`
	Pipeline     string     `json:"pipeline"`
	State        string     `json:"state"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RowsLoaded   int64      `json:"rows_loaded"`
	RowsPromoted int64      `json:"rows_promoted"`
	Checksum     string     `json:"source_checksum,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// TaskRunSummary is the JSON shape of one task execution.
type TaskRunSummary struct {
	TaskID         string `json:"task_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	RowsAffected   int64  `json:"rows_affected,omitempty"`
	ViolationCount int64  `json:"violation_count,omitempty"`
	ExecutionMS    int64  `json:"execution_ms"`
	Error          string `json:"error,omitempty"`
}

func openStateStore(cmd *cobra.Command) (*CommandContext, *state.SQLiteStore, error) {
	cc := NewCommandContextWithoutEngine(cmd)
	if cc.Cfg == nil {
		return nil, nil, errNoConfig
	}
	store, err := state.Open(cmd.Context(), cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return cc, store, nil
}

func runListRuns(cmd *cobra.Command, opts *RunsOptions) error {
	cc, store, err := openStateStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipelineName := cc.Cfg.Name
	if opts.All {
		pipelineName = ""
	}
	runs, err := store.ListRuns(cmd.Context(), pipelineName, opts.Limit)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]RunSummary, 0, len(runs))
		for _, run := range runs {
			out = append(out, runSummary(run))
		}
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Runs (%d)", len(runs)))
	if len(runs) == 0 {
		r.Muted("No runs recorded yet.")
		return nil
	}

	tw := r.Table("Run", "Pipeline", "State", "Started", "Loaded", "Promoted")
	for _, run := range runs {
		tw.AppendRow([]any{
			run.ID,
			run.Pipeline,
			run.State,
			run.StartedAt.Local().Format(time.DateTime),
			run.RowsLoaded,
			run.RowsPromoted,
		})
	}
	r.RenderTable(tw)
	return nil
}

func runShowRun(cmd *cobra.Command, runID string) error {
	cc, store, err := openStateStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	tasks, err := store.GetTaskRunsForRun(ctx, runID)
	if err != nil {
		return err
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		out := struct {
			Run   RunSummary       `json:"run"`
			Tasks []TaskRunSummary `json:"tasks"`
		}{Run: runSummary(run), Tasks: make([]TaskRunSummary, 0, len(tasks))}
		for _, tr := range tasks {
			out.Tasks = append(out.Tasks, taskRunSummary(tr))
		}
		return r.JSON(out)
	case output.ModeMarkdown:
		r.Header(1, "Run "+run.ID)
		r.Println(output.FormatKeyValue("Pipeline", run.Pipeline))
		r.Println(output.FormatKeyValue("State", run.State))
		r.Println(output.FormatKeyValue("Started", run.StartedAt.Format(time.RFC3339)))
		if run.SourceChecksum != "" {
			r.Println(output.FormatKeyValue("Source Checksum", run.SourceChecksum))
		}
		if run.Error != "" {
			r.Println(output.FormatKeyValue("Error", run.Error))
		}
		r.Println()
	default:
		r.Header(1, "Run "+run.ID)
		icon, style := r.Styles().Status(string(run.State))
		r.Printf("%s %s  %s\n", style.Render(icon), r.Styles().Bold.Render(string(run.State)), r.Styles().Muted.Render(run.Pipeline))
		if run.Error != "" {
			r.Error(run.Error)
		}
		r.Println()
	}

	tw := r.Table("Task", "Kind", "Status", "Attempts", "Violations", "Time")
	for _, tr := range tasks {
		tw.AppendRow([]any{
			tr.TaskID,
			tr.Kind,
			tr.Status,
			tr.Attempts,
			tr.ViolationCount,
			(time.Duration(tr.ExecutionMS) * time.Millisecond).String(),
		})
	}
	r.RenderTable(tw)
	return nil
}

func runSummary(run *core.Run) RunSummary {
	return RunSummary{
		ID:           run.ID,
		Pipeline:     run.Pipeline,
		State:        string(run.State),
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		RowsLoaded:   run.RowsLoaded,
		RowsPromoted: run.RowsPromoted,
		Checksum:     run.SourceChecksum,
		Error:        run.Error,
	}
}

func taskRunSummary(tr *core.TaskRun) TaskRunSummary {
	return TaskRunSummary{
		TaskID:         tr.TaskID,
		Kind:           string(tr.Kind),
		Status:         string(tr.Status),
		Attempts:       tr.Attempts,
		RowsAffected:   tr.RowsAffected,
		ViolationCount: tr.ViolationCount,
		ExecutionMS:    tr.ExecutionMS,
		Error:          tr.Error,
	}
}
