package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/gematik/zero-gate/pkg"
	"github.com/gematik/zero-gate/pkg/authn"
	"github.com/gematik/zero-gate/pkg/authz"
	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/gematik/zero-gate/pkg/provider"
	"github.com/gematik/zero-gate/pkg/server"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/gematik/zero-gate/pkg/web"
	"github.com/spf13/cobra"
)

const sessionCleanupInterval = time.Minute

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the login gateway",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()

		slog.Info("Starting zero-gate", "version", pkg.Version, "public_url", cfg.Website.PublicServerURL())

		registry, err := provider.NewRegistryFromConfig(cfg)
		if err != nil {
			slog.Error("Failed to load identity providers", "error", err)
			os.Exit(1)
		}
		for _, p := range registry.Providers() {
			slog.Info("Identity provider", "name", p.Name, "redirect_uri", p.RedirectURL, "pkce", p.PKCE, "id_token", p.VerifiesIDToken())
		}

		store, err := identity.OpenSQLite(ctx, cfg.AbsPath(cfg.Database.Path))
		if err != nil {
			slog.Error("Failed to open user database", "error", err)
			os.Exit(1)
		}
		defer store.Close()

		sessions, sessionBackend, closeSessions, err := session.NewStoreFromConfig(cfg.Session)
		if err != nil {
			slog.Error("Failed to create session store", "error", err)
			os.Exit(1)
		}
		defer closeSessions()
		if mem, ok := sessionBackend.(*session.MemoryBackend); ok {
			go mem.RunCleanup(ctx, sessionCleanupInterval)
		}

		checker, err := authz.New(cfg.PolicyFilePaths())
		if err != nil {
			slog.Error("Failed to load policy files", "error", err)
			os.Exit(1)
		}

		backend, err := authn.NewBackend(registry, store,
			authn.WithContext(ctx),
			authn.WithProviderTimeout(cfg.Website.ProviderTimeout),
			authn.WithSessionName(cfg.Session.CookieName),
		)
		if err != nil {
			slog.Error("Failed to create authentication backend", "error", err)
			os.Exit(1)
		}

		handler, err := web.NewHandler(backend, cfg.Website.Pages, checker)
		if err != nil {
			slog.Error("Failed to create web handler", "error", err)
			os.Exit(1)
		}
		e := handler.NewEcho(sessions)
		for _, route := range e.Routes() {
			slog.Debug("Route", "method", route.Method, "path", route.Path)
		}

		srv, err := server.NewFromConfig(e, cfg)
		if err != nil {
			slog.Error("Failed to create server", "error", err)
			os.Exit(1)
		}

		if err := srv.Run(ctx); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Server stopped")
	},
}
