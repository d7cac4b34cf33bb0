package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanlewiz/atlas-xray/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache statistics and recent fetch activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	stats, err := s.CacheStats(ctx)
	if err != nil {
		return err
	}

	ui.Info("Cache contents")
	fmt.Fprintf(ui.Out, "  %-20s %d\n", "projects", stats.Projects)
	fmt.Fprintf(ui.Out, "  %-20s %d\n", "updates", stats.Updates)
	fmt.Fprintf(ui.Out, "  %-20s %d\n", "analyzed updates", stats.AnalyzedUpdates)
	fmt.Fprintf(ui.Out, "  %-20s %d\n", "history entries", stats.HistoryEntries)

	if lastScan, err := s.GetMeta(ctx, "last_scan"); err == nil && lastScan != "" {
		fmt.Fprintf(ui.Out, "  %-20s %s\n", "last scan", lastScan)
	}

	records, err := s.ListFetchLog(ctx, 10)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(ui.Out)
	ui.Info("Recent fetches")
	table := ui.Table([]string{"Project", "Query", "Result", "At"})
	for _, r := range records {
		result := output.Green("ok")
		if !r.OK {
			result = output.Red(truncateSummary(r.Error, 40))
		}
		table.Append([]string{r.ProjectKey, r.Query, result, r.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	return table.Render()
}
