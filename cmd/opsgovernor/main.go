package main

import (
	"fmt"
	"os"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries what every subcommand needs after the root pre-run
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "opsgovernor",
		Short: "Natural-language operations governor for the campus database",
		Long: `opsgovernor turns plain-language commands into permission-checked,
risk-classified operations on the campus records and keeps an append-only
ledger that can roll committed changes back.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Observability, cfg.Environment)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newTokenCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
