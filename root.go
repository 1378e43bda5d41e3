package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"prodsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDatabase   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// logLevel is the live log level. Serve flips it on config reload.
var logLevel = new(slog.LevelVar)

// skipConfigAnnotation marks commands that must run before a config file
// exists, such as config init.
const skipConfigAnnotation = "skipConfig"

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "prodsync",
		Short:   "Feishu Bitable product catalog sync",
		Long:    "Synchronize a Feishu Bitable product table into a canonical catalog with images in S3-compatible storage.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "catalog database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newControlCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newFieldsCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result in resolvedCfg for use by
// subcommands. Flags registered on the invoked command (listen addr, batch
// size) ride along when the user set them explicitly.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if cmd.Flags().Changed("database") {
		cli.DatabasePath = &flagDatabase
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		v := f.Value.String()
		cli.ListenAddr = &v
	}

	if f := cmd.Flags().Lookup("download-images"); f != nil && f.Changed {
		v, err := cmd.Flags().GetBool("download-images")
		if err == nil {
			cli.DownloadImages = &v
		}
	}

	if f := cmd.Flags().Lookup("batch-size"); f != nil && f.Changed {
		v, err := cmd.Flags().GetInt("batch-size")
		if err == nil {
			cli.BatchSize = &v
		}
	}

	if f := cmd.Flags().Lookup("concurrent-images"); f != nil && f.Changed {
		v, err := cmd.Flags().GetInt("concurrent-images")
		if err == nil {
			cli.ConcurrentImages = &v
		}
	}

	env := config.ReadEnvOverrides()

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// configPath returns the path the resolved config came from, for the file
// watcher and display.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	if env := config.ReadEnvOverrides(); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return config.DefaultConfigPath()
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The returned logger
// shares the package logLevel var so serve can retune it on config reload.
func buildLogger() *slog.Logger {
	logLevel.Set(effectiveLevel())

	format := "text"
	if resolvedCfg != nil {
		format = resolvedCfg.Logging.LogFormat
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// effectiveLevel applies the config baseline and then the CLI flag
// overrides.
func effectiveLevel() slog.Level {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		level = parseLogLevel(resolvedCfg.Logging.LogLevel)
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requireCredentials fails fast when the resolved config is missing settings
// that upstream-facing commands cannot run without.
func requireCredentials() error {
	if missing := config.MissingRequired(resolvedCfg); len(missing) > 0 {
		return fmt.Errorf("missing required configuration:\n  %s", joinLines(missing))
	}

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
