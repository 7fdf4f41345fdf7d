package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/phrazzld/casequeue/internal/config"
	"github.com/phrazzld/casequeue/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [" + strings.Join(postgres.MigrationCommands, "|") + "]",
		Short: "Run database migrations",
		Long: `Run goose migrations against the configured PostgreSQL database.

Examples:
  casequeue migrate up
  casequeue migrate status`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: postgres.MigrationCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			if !slices.Contains(postgres.MigrationCommands, command) {
				return fmt.Errorf("unknown migration command %q (expected one of %s)",
					command, strings.Join(postgres.MigrationCommands, ", "))
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StoreDriverPostgres {
				return fmt.Errorf("migrations require the %s store driver, got %q",
					config.StoreDriverPostgres, cfg.Store.Driver)
			}
			log, err := setupAppLogger(cfg)
			if err != nil {
				return err
			}

			db, err := postgres.Open(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			return postgres.Migrate(cmd.Context(), db, command, log)
		},
	}
}
