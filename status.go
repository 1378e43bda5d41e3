package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"prodsync/internal/store"
)

// statusRecentRuns is how many sync runs the status command lists.
const statusRecentRuns = 5

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog and sync run status",
		Long: `Display the local catalog state: whether a server is running, product
counts by status, and the most recent sync runs. Reads the database
directly; it works whether or not serve is up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

type statusReport struct {
	ServerRunning bool             `json:"serverRunning"`
	ServerPID     int              `json:"serverPid,omitempty"`
	Products      map[string]int   `json:"products"`
	RecentRuns    []*store.SyncLog `json:"recentRuns"`
}

func runStatus(cmd *cobra.Command) error {
	logger := buildLogger()
	ctx := cmd.Context()

	st, err := store.Open(resolvedCfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	report := statusReport{Products: map[string]int{}}

	if resolvedCfg.Server.PidFile != "" {
		report.ServerPID, report.ServerRunning = serverRunning(resolvedCfg.Server.PidFile)
	}

	counts, err := st.CountProductsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counting products: %w", err)
	}

	report.Products = counts

	logs, err := st.FindRecentSyncLogs(ctx, statusRecentRuns)
	if err != nil {
		return fmt.Errorf("reading sync history: %w", err)
	}

	report.RecentRuns = logs

	if flagJSON {
		return printJSON(report)
	}

	printStatusReport(report)

	return nil
}

func printStatusReport(report statusReport) {
	if report.ServerRunning {
		fmt.Printf("Server: running (PID %d)\n", report.ServerPID)
	} else {
		fmt.Println("Server: not running")
	}

	fmt.Println()
	fmt.Println("Products:")

	statuses := make([]string, 0, len(report.Products))
	for status := range report.Products {
		statuses = append(statuses, status)
	}

	sort.Strings(statuses)

	for _, status := range statuses {
		fmt.Printf("  %-10s %d\n", status, report.Products[status])
	}

	if len(report.RecentRuns) == 0 {
		fmt.Println("\nNo sync runs yet.")

		return
	}

	fmt.Println()

	rows := make([][]string, 0, len(report.RecentRuns))
	for _, l := range report.RecentRuns {
		rows = append(rows, []string{
			l.LogID,
			l.SyncType,
			l.Status,
			formatTime(l.StartTime),
			fmt.Sprint(l.Stats.TotalRecords),
			fmt.Sprint(l.Stats.FailedRecords),
		})
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		printTable(os.Stdout, []string{"SYNC ID", "MODE", "STATUS", "STARTED", "RECORDS", "FAILED"}, rows)

		return
	}

	for _, row := range rows {
		fmt.Println(joinTabs(row))
	}
}

func joinTabs(cells []string) string {
	out := ""
	for i, cell := range cells {
		if i > 0 {
			out += "\t"
		}

		out += cell
	}

	return out
}
