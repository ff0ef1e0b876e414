package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/dag"
	"github.com/leapstack-labs/leapgate/internal/pipeline"
	"github.com/spf13/cobra"
)

// GraphQuerier provides read-only access to DAG structure.
type GraphQuerier interface {
	Parents(string) []string
	Children(string) []string
	NodeCount() int
	EdgeCount() int
}

// DAGNode is the JSON shape of one task.
type DAGNode struct {
	ID       string   `json:"id"`
	Parents  []string `json:"parents,omitempty"`
	Children []string `json:"children,omitempty"`
}

// DAGLevel groups tasks that may run in parallel.
type DAGLevel struct {
	Level int       `json:"level"`
	Nodes []DAGNode `json:"nodes"`
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the task graph of a run",
		Long: `Display the task graph a run executes:

  create_staging -> load_staging -> dq.* -> create_published -> promote

Tasks are grouped by execution level. Every rule task on the same level runs
in parallel; create_published waits for all of them.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the DAG
  leapgate dag

  # Show the graph used by "leapgate validate"
  leapgate dag --validate-only

  # Output as JSON
  leapgate dag --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, validateOnly)
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "Show the graph without the promotion tasks")
	return cmd
}

func runDAG(cmd *cobra.Command, validateOnly bool) error {
	cmdCtx, err := NewOfflineContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	graph, err := cmdCtx.Pipeline.Graph(pipeline.RunOptions{ValidateOnly: validateOnly})
	if err != nil {
		return err
	}
	levels, err := graph.Levels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return dagJSON(r, graph, levels)
	case output.ModeMarkdown:
		return dagMarkdown(r, graph, levels)
	default:
		return dagText(r, graph, levels)
	}
}

// dagText outputs DAG in styled text format.
func dagText(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	styles := r.Styles()

	r.Header(1, "Task Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, id := range level {
			r.Printf("  %s\n", styles.ID.Render(id))
			if deps := graph.Parents(id); len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("after:"), strings.Join(deps, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d tasks, %d dependencies", graph.NodeCount(), graph.EdgeCount())))
	return nil
}

// dagMarkdown outputs DAG in markdown format.
func dagMarkdown(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	r.Println(output.FormatHeader(1, "Task Graph"))
	r.Println("")

	for i, level := range levels {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Level %d", i)))
		r.Println("")
		for _, id := range level {
			line := "- `" + id + "`"
			if deps := graph.Parents(id); len(deps) > 0 {
				line += " after " + strings.Join(deps, ", ")
			}
			r.Println(line)
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Tasks", graph.NodeCount()))
	r.Println(output.FormatKeyValue("Total Dependencies", graph.EdgeCount()))
	return nil
}

// dagJSON outputs DAG in JSON format.
func dagJSON(r *output.Renderer, graph GraphQuerier, levels [][]string) error {
	out := make([]DAGLevel, 0, len(levels))
	for i, level := range levels {
		l := DAGLevel{Level: i}
		for _, id := range level {
			l.Nodes = append(l.Nodes, DAGNode{
				ID:       id,
				Parents:  graph.Parents(id),
				Children: graph.Children(id),
			})
		}
		out = append(out, l)
	}
	return r.JSON(out)
}

var _ GraphQuerier = (*dag.Graph)(nil)
