package cmd

import (
	"log/slog"
	"os"

	"github.com/gematik/zero-gate/pkg/ca"
	"github.com/spf13/cobra"
)

func init() {
	devcertCmd.Flags().StringSlice("host", []string{"localhost", "127.0.0.1"}, "host names and IP addresses of the certificate")
	rootCmd.AddCommand(devcertCmd)
}

var devcertCmd = &cobra.Command{
	Use:   "devcert",
	Short: "Issue a self-signed certificate for the TLS listener (development only)",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		hosts, _ := cmd.Flags().GetStringSlice("host")
		ssl := cfg.Website.BindSSLConfig
		certPath, keyPath := cfg.AbsPath(ssl.CertPath), cfg.AbsPath(ssl.KeyPath)

		authority, err := ca.NewRandomAuthority()
		if err != nil {
			slog.Error("Failed to create development CA", "error", err)
			os.Exit(1)
		}
		cert, key, err := authority.IssueServerCertificate(hosts...)
		if err != nil {
			slog.Error("Failed to issue certificate", "error", err)
			os.Exit(1)
		}
		if err := authority.WriteKeyPair(certPath, keyPath, cert, key); err != nil {
			slog.Error("Failed to write certificate", "error", err)
			os.Exit(1)
		}
		slog.Info("Certificate written", "cert_path", certPath, "key_path", keyPath, "hosts", hosts, "not_after", cert.NotAfter)
	},
}
