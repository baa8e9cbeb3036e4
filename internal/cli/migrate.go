package cli

import (
	"fmt"

	"github.com/Tyrowin/taptik/internal/store/postgres"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded PostgreSQL migrations to database_dsn and exit.

Example:
  TAPTIK_DATABASE_DSN=postgres://taptik@localhost/taptik taptik migrate`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.DatabaseDSN == "" {
				return fmt.Errorf("database_dsn is required for migrate")
			}

			st, err := postgres.Open(cmd.Context(), cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
