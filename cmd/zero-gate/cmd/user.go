package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/spf13/cobra"
)

func init() {
	userCmd.AddCommand(userRoleCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userRoleCmd = &cobra.Command{
	Use:   "role <username> <none|user|admin>",
	Short: "Set the role of a user",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		role := identity.Role(args[1])
		switch role {
		case identity.RoleNone, identity.RoleUser, identity.RoleAdmin:
		default:
			cobra.CheckErr(fmt.Sprintf("unknown role %q", args[1]))
		}

		cfg := loadConfig()
		store, err := identity.OpenSQLite(cmd.Context(), cfg.AbsPath(cfg.Database.Path))
		if err != nil {
			slog.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := store.SetRole(cmd.Context(), args[0], role); err != nil {
			slog.Error("Failed to set role", "error", err, "username", args[0])
			os.Exit(1)
		}
		slog.Info("Role updated", "username", args[0], "role", role)
	},
}
