package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prodsync/internal/consistency"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check catalog consistency",
		Long: `Validate the catalog: required fields present, prices and barcodes in
range, and every recorded image actually readable in the object store.

Scope selects which products to check: all (default), recent (collected in
the last day), or selective with --products.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd)
		},
	}

	cmd.Flags().String("scope", consistency.ScopeAll, "validation scope: all, recent, or selective")
	cmd.Flags().StringSlice("products", nil, "product IDs for selective scope")
	cmd.Flags().StringSlice("checks", nil, "checks to run (default all): data_integrity, image_existence, field_validation")

	return cmd
}

func runValidate(cmd *cobra.Command) error {
	scope, _ := cmd.Flags().GetString("scope")
	productIDs, _ := cmd.Flags().GetStringSlice("products")
	checks, _ := cmd.Flags().GetStringSlice("checks")

	logger := buildLogger()

	ctx := shutdownContext(cmd.Context(), logger)

	deps, err := buildDeps(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	report, err := deps.checker.Validate(ctx, consistency.ValidateRequest{
		Scope:      scope,
		ProductIDs: productIDs,
		Checks:     checks,
	})
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if flagJSON {
		return printJSON(report)
	}

	fmt.Printf("Checked %d products: %d issues (%d critical, %d warnings)\n",
		report.Summary.TotalChecked, report.Summary.IssuesFound,
		report.Summary.CriticalIssues, report.Summary.Warnings)

	if len(report.Issues) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		rows = append(rows, []string{
			issue.Severity,
			issue.ProductID,
			issue.Field,
			issue.Message,
		})
	}

	printTable(os.Stdout, []string{"SEVERITY", "PRODUCT", "FIELD", "ISSUE"}, rows)

	if report.Summary.CriticalIssues > 0 {
		return fmt.Errorf("%d critical issues found", report.Summary.CriticalIssues)
	}

	return nil
}
