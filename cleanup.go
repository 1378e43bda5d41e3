package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// defaultCleanupAge keeps soft-removed images around for thirty days before
// physical deletion.
const defaultCleanupAge = 30 * 24 * time.Hour

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Physically remove old soft-deleted images",
		Long: `Delete objects, thumbnails, and database rows for images that were
soft-removed longer ago than --older-than. Rows are only deleted once
their objects are gone, so a failed object removal can be retried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			repairBroken, _ := cmd.Flags().GetBool("repair-broken")

			return runCleanup(cmd, olderThan, repairBroken)
		},
	}

	cmd.Flags().Duration("older-than", defaultCleanupAge, "minimum age of soft-removed images to delete")
	cmd.Flags().Bool("repair-broken", false, "re-download active images whose objects are missing before cleaning up")

	return cmd
}

func runCleanup(cmd *cobra.Command, olderThan time.Duration, repairBroken bool) error {
	logger := buildLogger()

	ctx := shutdownContext(cmd.Context(), logger)

	deps, err := buildDeps(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if repairBroken {
		repair, err := deps.images.RepairBrokenImages(ctx)
		if err != nil {
			return fmt.Errorf("repair failed: %w", err)
		}

		if flagJSON {
			if err := printJSON(repair); err != nil {
				return err
			}
		} else {
			fmt.Printf("Repair: %d active images, %d broken, %d repaired, %d failed\n",
				repair.Total, repair.BrokenFound, repair.Repaired, repair.Failed)

			for _, msg := range repair.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), " ", msg)
			}
		}

		if repair.Failed > 0 {
			return fmt.Errorf("%d repairs failed", repair.Failed)
		}
	}

	stats, err := deps.images.CleanupInactive(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if flagJSON {
		return printJSON(stats)
	}

	fmt.Printf("Cleanup: %d candidates, %d objects removed, %d rows removed, %d failed\n",
		stats.Candidates, stats.RemovedObjects, stats.RemovedRows, stats.Failed)

	if stats.Failed > 0 {
		return fmt.Errorf("%d removals failed", stats.Failed)
	}

	return nil
}
