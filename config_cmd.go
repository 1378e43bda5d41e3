package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"prodsync/internal/config"
)

const redactedValue = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and bootstrap configuration",
	}

	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the effective config file path",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(configPath())

			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Create the config file with all default values if it does not already
exist. Credentials still need to be filled in or supplied through the
environment.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfigInit()
		},
	}
}

func runConfigInit() error {
	path := configPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, pidFilePermissions)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.DefaultConfig()); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}

	statusf("Wrote default config to %s\n", path)

	return nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Long:  `Print the effective configuration after defaults, config file, environment, and CLI flags are applied. Secrets are redacted.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfigShow()
		},
	}
}

func runConfigShow() error {
	// Copy before redacting so the live config keeps its secrets.
	shown := *resolvedCfg

	if shown.Upstream.AppSecret != "" {
		shown.Upstream.AppSecret = redactedValue
	}

	if shown.ObjectStore.SecretKey != "" {
		shown.ObjectStore.SecretKey = redactedValue
	}

	if flagJSON {
		return printJSON(shown)
	}

	return toml.NewEncoder(os.Stdout).Encode(shown)
}
