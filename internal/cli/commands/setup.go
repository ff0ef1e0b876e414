package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapgate/internal/cli/config"
	"github.com/leapstack-labs/leapgate/internal/cli/output"
	"github.com/leapstack-labs/leapgate/internal/pipeline"
	"github.com/leapstack-labs/leapgate/internal/state"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Gateway  gateway.Gateway
	Store    *state.SQLiteStore
	Pipeline *pipeline.Pipeline
}

// NewCommandContext connects the gateway, opens the state store and compiles
// the pipeline. Returns the context and a cleanup function that must be
// called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutEngine(cmd)
	if cc.Cfg == nil {
		return nil, nil, errNoConfig
	}
	ctx := cmd.Context()

	gwCfg, err := cc.Cfg.Target.GatewayConfig()
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.Open(ctx, gwCfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := state.Open(ctx, cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		_ = gw.Close()
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = gw.Close()
	}

	p, err := newPipeline(cc.Cfg, gw, store, cc.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	cc.Gateway = gw
	cc.Store = store
	cc.Pipeline = p
	return cc, cleanup, nil
}

// NewOfflineContext compiles the pipeline against an unconnected gateway.
// Useful for commands that inspect the definition without database access.
func NewOfflineContext(cmd *cobra.Command) (*CommandContext, error) {
	cc := NewCommandContextWithoutEngine(cmd)
	if cc.Cfg == nil {
		return nil, errNoConfig
	}
	gw, err := gateway.NewGateway(gateway.Config{Type: strings.ToLower(cc.Cfg.Target.Type)}, cc.Logger)
	if err != nil {
		return nil, err
	}
	p, err := newPipeline(cc.Cfg, gw, nil, cc.Logger)
	if err != nil {
		return nil, err
	}
	cc.Gateway = gw
	cc.Pipeline = p
	return cc, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without a gateway
// or pipeline.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := config.GetCurrentConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.ModeAuto
	if cfg != nil {
		mode = output.Mode(cfg.OutputFormat)
	}
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

var errNoConfig = errors.New("no configuration loaded\nHint: run inside a directory containing leapgate.yaml or pass --config")

func newPipeline(cfg *config.Config, gw gateway.Gateway, store *state.SQLiteStore, logger *slog.Logger) (*pipeline.Pipeline, error) {
	def, err := cfg.Definition()
	if err != nil {
		return nil, err
	}
	pc := pipeline.Config{
		Definition: def,
		Gateway:    gw,
		Logger:     logger,
	}
	if store != nil {
		pc.Store = store
	}
	return pipeline.New(pc)
}
