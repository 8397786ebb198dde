package command

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vampirenirmal/serialist/internal/config"
	"github.com/vampirenirmal/serialist/internal/generate"
	"github.com/vampirenirmal/serialist/internal/orchestrator"
	"github.com/vampirenirmal/serialist/internal/store"
)

// CommandContext bundles what every command needs: loaded config, an open
// store, and a logger.
type CommandContext struct {
	Config *config.Config
	Store  *store.Store
	Logger *slog.Logger
}

// GetContext loads config and opens the store for one command invocation.
// The caller must Close it.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}

	return &CommandContext{Config: cfg, Store: st, Logger: logger}, nil
}

func (c *CommandContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// NewRunner builds the generation runner against the configured endpoint.
func (c *CommandContext) NewRunner() *orchestrator.Runner {
	gen := generate.NewClient(c.Config.AI.APIKey,
		generate.WithModel(c.Config.AI.BaseURL, c.Config.AI.Model),
		generate.WithTimeout(c.Config.AI.Timeout()),
		generate.WithRateLimit(c.Config.AI.RequestsPerMinute, c.Config.AI.BurstSize),
		generate.WithLogger(c.Logger),
	)
	return orchestrator.NewRunner(c.Store, gen, c.Logger, orchestrator.Config{
		MaxAttempts:    c.Config.Engine.MaxAttempts,
		HardFailLimit:  c.Config.Engine.HardFailLimit,
		RetryDelay:     c.Config.Engine.RetryDelay.Std(),
		AcceptDegraded: c.Config.Engine.AcceptDegraded,
	})
}
