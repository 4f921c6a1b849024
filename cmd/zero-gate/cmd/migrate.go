package cmd

import (
	"log/slog"
	"os"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the user database",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		path := cfg.AbsPath(cfg.Database.Path)

		store, err := identity.OpenSQLite(cmd.Context(), path)
		if err != nil {
			slog.Error("Failed to migrate database", "error", err, "path", path)
			os.Exit(1)
		}
		defer store.Close()

		count, err := store.CountUsers(cmd.Context())
		if err != nil {
			slog.Error("Failed to query database", "error", err)
			os.Exit(1)
		}
		slog.Info("Database is up to date", "path", path, "users", count)
	},
}
