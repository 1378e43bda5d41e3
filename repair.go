package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prodsync/internal/consistency"
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Fix catalog consistency issues",
		Long: `Repair known issue classes: re-download missing images from their source
tokens, clamp out-of-range prices, and retire duplicate product rows
keeping the newest. Use --dry-run to see what would be fixed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepair(cmd)
		},
	}

	cmd.Flags().StringSlice("issues", nil,
		"issue types to repair (default all): missing_image, invalid_data, duplicate_products")
	cmd.Flags().StringSlice("products", nil, "limit repair to these product IDs")
	cmd.Flags().Bool("dry-run", false, "report what would be repaired without writing")

	return cmd
}

func runRepair(cmd *cobra.Command) error {
	issueTypes, _ := cmd.Flags().GetStringSlice("issues")
	productIDs, _ := cmd.Flags().GetStringSlice("products")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	logger := buildLogger()

	ctx := shutdownContext(cmd.Context(), logger)

	deps, err := buildDeps(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	report, err := deps.checker.Repair(ctx, consistency.RepairRequest{
		IssueTypes: issueTypes,
		ProductIDs: productIDs,
		DryRun:     dryRun,
	})
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	if flagJSON {
		return printJSON(report)
	}

	if report.DryRun {
		fmt.Println("Dry run: no changes were written.")
	}

	fmt.Printf("Issues: %d found, %d repaired, %d failed\n",
		report.Summary.TotalIssues, report.Summary.RepairedIssues, report.Summary.FailedRepairs)

	if len(report.Results) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []string{r.Status, r.IssueType, r.ProductID, r.Message})
	}

	printTable(os.Stdout, []string{"STATUS", "ISSUE", "PRODUCT", "DETAIL"}, rows)

	if report.Summary.FailedRepairs > 0 {
		return fmt.Errorf("%d repairs failed", report.Summary.FailedRepairs)
	}

	return nil
}
