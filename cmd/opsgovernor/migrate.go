package main

import (
	"fmt"

	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/repositories/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the campus tables and the action ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := schema.Default()
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), postgres.SchemaDDL(registry))
				return err
			}
			if c.cfg.Store.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=postgres, got %q", c.cfg.Store.Driver)
			}

			factory, err := postgres.NewRepositoryFactory(c.cfg, registry, c.logger)
			if err != nil {
				return err
			}
			defer factory.Close()

			if err := factory.InitSchema(cmd.Context()); err != nil {
				return err
			}
			c.logger.Info("schema is up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}
