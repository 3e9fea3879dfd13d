package erpcore

import (
	"github.com/spf13/cobra"

	"erp-core/internal/platform/config"
	"erp-core/internal/platform/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <orders|inventory|finance>",
	Short:     "Apply pending schema migrations of a service",
	Example:   "  erpcore migrate finance --dir ./migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: services,
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("dir", "", "Migrations root directory (default MIGRATIONS_DIR or ./migrations)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadTool(args[0])
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.MigrationsDir = dir
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cmd.Context(), cfg.DatabaseURL, "")
	if err != nil {
		return err
	}
	defer db.Close()
	return database.Migrate(db.Primary, cfg.MigrationsPath(), logger)
}
