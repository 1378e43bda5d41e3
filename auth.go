package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"prodsync/internal/config"
	"prodsync/internal/feishu"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Verify upstream credentials",
		Long: `Mint a tenant access token and read the table schema to prove the
configured app credentials, app token, and table ID all work.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuth(cmd)
		},
	}
}

func runAuth(cmd *cobra.Command) error {
	if missing := upstreamMissing(resolvedCfg); len(missing) > 0 {
		return fmt.Errorf("missing required configuration:\n  %s", joinLines(missing))
	}

	logger := buildLogger()
	cfg := resolvedCfg

	client := feishu.New(feishu.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		AppID:          cfg.Upstream.AppID,
		AppSecret:      cfg.Upstream.AppSecret,
		AppToken:       cfg.Upstream.AppToken,
		TableID:        cfg.Upstream.TableID,
		RecordTimeout:  cfg.Upstream.RecordTimeoutDuration(),
		MediaTimeout:   cfg.Upstream.MediaTimeoutDuration(),
		TokenCachePath: cfg.Upstream.TokenCache,
	}, logger)

	fields, err := client.VerifyCredentials(cmd.Context())
	if err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	if flagJSON {
		return printJSON(map[string]any{"ok": true, "fieldCount": len(fields)})
	}

	fmt.Printf("Credentials OK. Table has %d fields.\n", len(fields))

	return nil
}

// upstreamMissing filters the required-settings report down to the upstream
// section, since auth does not touch the object store or database.
func upstreamMissing(cfg *config.Config) []string {
	var missing []string

	for _, name := range config.MissingRequired(cfg) {
		if strings.HasPrefix(name, "upstream.") {
			missing = append(missing, name)
		}
	}

	return missing
}
