package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/prettylog"
	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose = false
var workdir = ""
var envFiles []string

var (
	rootCmd = &cobra.Command{
		Use:   "zero-gate",
		Short: "Multi-provider OAuth2 login gateway",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if workdir != "" {
				err := os.Chdir(workdir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to change working directory: %v\n", err)
					os.Exit(1)
				}
			}
			if len(envFiles) > 0 {
				if err := config.LoadEnv(envFiles...); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
					os.Exit(1)
				}
			} else {
				// .env is optional
				_ = config.LoadEnv(".env")
			}

			format := "console"
			if os.Getenv("PRETTY_LOGS") == "false" {
				format = "json"
			}
			setupLogger(format, slog.LevelInfo)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ZERO_GATE")
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	persistentFlags.StringSliceVar(&envFiles, "env-file", nil, "env files to load (default is .env if present)")
	persistentFlags.StringP("config-file", "f", "zero-gate.yaml", "config file")
	viper.BindPFlag("config_file", persistentFlags.Lookup("config-file"))
}

// setupLogger installs the default logger. --verbose lowers the level to
// debug unless the requested level is already lower.
func setupLogger(format string, level slog.Level) {
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "pretty":
		handler = prettylog.NewHandler(os.Stderr, level)
	default:
		handler = console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig loads the config file named by --config-file or
// ZERO_GATE_CONFIG_FILE and applies its logger settings.
func loadConfig() *config.Config {
	configFile := config.ExpandHome(viper.GetString("config_file"))
	if configFile == "" {
		cobra.CheckErr("config file is required. Use --config-file/-f flag or environment variable")
	}
	cfg, err := config.LoadConfigFile(configFile)
	if err != nil {
		slog.Error("Failed to load config file", "error", err, "config_file", configFile)
		os.Exit(1)
	}

	format := cfg.Logger.Format
	if os.Getenv("PRETTY_LOGS") == "false" {
		format = "json"
	}
	setupLogger(format, cfg.Logger.Level())
	return cfg
}
