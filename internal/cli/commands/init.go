package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapgate/internal/cli/output"
	sharedcfg "github.com/leapstack-labs/leapgate/internal/config"
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapgate project",
		Long: `Initialize a new leapgate project with a starter configuration.

This creates:
  - leapgate.yaml with a target, source, tables, columns and rules
  - data/ with a sample batch

Use --example to create the event stream project: rules in rules.yaml,
scoped NULL and accepted-value checks, format checks and a published DDL file.`,
		Example: `  # Initialize in current directory
  leapgate init

  # Initialize with the event stream example
  leapgate init --example

  # Initialize in a new directory
  leapgate init my-project --example

  # Force overwrite existing config
  leapgate init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			r := NewCommandContextWithoutEngine(cmd).Renderer

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, template, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Create the event stream example project")

	return cmd
}

func runInit(r *output.Renderer, template, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, sharedcfg.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", sharedcfg.ConfigFileName)
	}

	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, err := listTemplateFiles(template)
	if err != nil {
		return err
	}
	for _, f := range files {
		r.StatusLine(f, "success", "")
	}

	r.Println("")
	r.Success("leapgate project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Export the warehouse DSN named by target.dsn_env")
	r.Println("  2. Run 'leapgate doctor' to check the setup")
	r.Println("  3. Run 'leapgate validate' to evaluate rules without promoting")
	r.Println("  4. Run 'leapgate run' to load, validate and promote")

	return nil
}
