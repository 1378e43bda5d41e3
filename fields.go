package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prodsync/internal/catalog"
	"prodsync/internal/feishu"
)

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "Show the upstream table schema against the field mapping",
		Long: `List every column of the upstream table and whether the sync maps it
into the canonical product. Unmapped columns are ignored by sync; mapped
columns missing from the table fall back to defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFields(cmd)
		},
	}
}

type fieldReport struct {
	Name      string `json:"name"`
	Type      int    `json:"type"`
	IsPrimary bool   `json:"isPrimary"`
	Mapped    bool   `json:"mapped"`
}

func runFields(cmd *cobra.Command) error {
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

	fields, err := client.GetTableFields(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading table schema: %w", err)
	}

	mapped := map[string]bool{}
	for _, name := range catalog.MappedFieldNames(catalog.DefaultMappings()) {
		mapped[name] = true
	}

	reports := make([]fieldReport, 0, len(fields))
	for _, f := range fields {
		reports = append(reports, fieldReport{
			Name:      f.Name,
			Type:      f.Type,
			IsPrimary: f.IsPrimary,
			Mapped:    mapped[f.Name],
		})
	}

	if flagJSON {
		return printJSON(reports)
	}

	rows := make([][]string, 0, len(reports))

	for _, r := range reports {
		mark := "no"
		if r.Mapped {
			mark = "yes"
		}

		primary := ""
		if r.IsPrimary {
			primary = "primary"
		}

		rows = append(rows, []string{r.Name, fmt.Sprint(r.Type), mark, primary})
	}

	printTable(os.Stdout, []string{"FIELD", "TYPE", "MAPPED", ""}, rows)

	return nil
}
