package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached projects, updates, and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheClearRun(cmd.Context())
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheStatsRun(cmd.Context())
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func cacheStatsRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	stats, err := s.CacheStats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "projects:         %d\n", stats.Projects)
	fmt.Fprintf(ui.Out, "updates:          %d\n", stats.Updates)
	fmt.Fprintf(ui.Out, "analyzed updates: %d\n", stats.AnalyzedUpdates)
	fmt.Fprintf(ui.Out, "history entries:  %d\n", stats.HistoryEntries)
	return nil
}

func cacheClearRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would clear the cache")
		return nil
	}

	if err := s.ClearCache(ctx); err != nil {
		return err
	}
	ui.Success("Cache cleared")
	return nil
}
