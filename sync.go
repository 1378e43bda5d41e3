package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prodsync/internal/store"
	"prodsync/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync against the upstream table",
		Long: `Run one sync in-process: fetch records from the Feishu Bitable, upsert
changed products into the catalog, and download new images.

Full mode processes every row; incremental only rows collected since the
last successful run; selective only the rows named by --products. Use
--dry-run to preview what would change without writing anything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd)
		},
	}

	cmd.Flags().String("mode", syncer.ModeFull, "sync mode: full, incremental, or selective")
	cmd.Flags().StringSlice("products", nil, "product IDs for selective mode")
	cmd.Flags().Bool("dry-run", false, "preview changes without writing")
	cmd.Flags().Bool("download-images", true, "download attachment images")
	cmd.Flags().Int("batch-size", 0, "records per progress batch (overrides config)")
	cmd.Flags().Int("concurrent-images", 0, "parallel image downloads (overrides config)")

	return cmd
}

func runSync(cmd *cobra.Command) error {
	mode, _ := cmd.Flags().GetString("mode")
	productIDs, _ := cmd.Flags().GetStringSlice("products")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	logger := buildLogger()

	ctx := shutdownContext(cmd.Context(), logger)

	deps, err := buildDeps(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	opts := syncer.DefaultOptions(mode)
	opts.ProductIDs = productIDs
	opts.DryRun = dryRun
	opts.DownloadImages = resolvedCfg.Sync.DownloadImages
	opts.BatchSize = resolvedCfg.Sync.BatchSize
	opts.ConcurrentImages = resolvedCfg.Sync.ConcurrentImages

	statusf("Starting %s sync...\n", mode)

	result, err := deps.engine.SyncFromFeishu(ctx, opts)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return printSyncResult(result)
}

func printSyncResult(result *syncer.Result) error {
	if flagJSON {
		return printJSON(result)
	}

	fmt.Printf("Sync %s: %s\n", result.SyncID, result.Status)

	if result.DryRun {
		fmt.Println("Dry run: no changes were written.")
	}

	fmt.Printf("Duration: %s\n", formatDuration(result.EndTime.Sub(result.StartTime)))

	printTable(os.Stdout,
		[]string{"TOTAL", "CREATED", "UPDATED", "FAILED", "IMAGES", "IMG FAILED"},
		[][]string{{
			fmt.Sprint(result.Stats.TotalRecords),
			fmt.Sprint(result.Stats.CreatedRecords),
			fmt.Sprint(result.Stats.UpdatedRecords),
			fmt.Sprint(result.Stats.FailedRecords),
			fmt.Sprint(result.Stats.ProcessedImages),
			fmt.Sprint(result.Stats.FailedImages),
		}},
	)

	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "error [%s] %s: %s\n", e.Type, e.ProductID, e.Message)
	}

	if result.Status != store.SyncStatusCompleted {
		return fmt.Errorf("sync finished with status %q", result.Status)
	}

	return nil
}
