// Package cli provides the command-line interface for leapgate.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/leapstack-labs/leapgate/internal/cli/commands"
	"github.com/leapstack-labs/leapgate/internal/cli/config"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/spf13/cobra"

	// Register every supported gateway.
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/duckdb"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/mysql"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/postgres"
	_ "github.com/leapstack-labs/leapgate/pkg/gateways/sqlite"
)

var (
	cfgFile    string
	targetFlag string
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitDataViolation = 2
	ExitConfiguration = 3
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapgate",
		Short: "leapgate - data-quality gated promotion",
		Long: `leapgate loads a batch into a staging table, evaluates declarative
data-quality rules against it, and promotes the batch into the published
table in one transaction only when every rule passes.

Runs are recorded in a local state store so history can be inspected with
"leapgate runs".`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for commands that do not need a project
			switch cmd.Name() {
			case "help", "completion", "__complete", "version", "init":
				return nil
			}

			cfg, err := config.LoadConfigWithTarget(cfgFile, targetFlag, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			cmd.SetContext(context.WithValue(cmd.Context(), config.LoggerKey(), logger))

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					logger.Debug("using config file", "path", configFile)
				}
				if targetFlag != "" {
					logger.Debug("using environment", "name", targetFlag)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./leapgate.yaml)")
	rootCmd.PersistentFlags().StringVarP(&targetFlag, "target", "t", "", "Environment to use (e.g., dev, ci, prod)")
	rootCmd.PersistentFlags().String("state", "", "Path to state database")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("target", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "ci", "prod"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewRulesCommand())
	rootCmd.AddCommand(commands.NewDAGCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		return err
	}
	return nil
}

func errorHint(err error) string {
	if errors.Is(err, core.ErrCommitUnknown) {
		return "the commit may have been applied; inspect the published table before running again"
	}
	return ""
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var violation *core.DataViolation
	switch {
	case errors.As(err, &violation):
		return ExitDataViolation
	case core.IsConfiguration(err):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leapgate.

To load completions:

Bash:
  $ source <(leapgate completion bash)

Zsh:
  $ leapgate completion zsh > "${fpath[1]}/_leapgate"

Fish:
  $ leapgate completion fish > ~/.config/fish/completions/leapgate.fish

PowerShell:
  PS> leapgate completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
