package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/output"
	"github.com/jordanlewiz/atlas-xray/internal/quality"
)

var reportLimit int

var reportCmd = &cobra.Command{
	Use:   "report [projectKey]",
	Short: "Show the cached update timeline",
	Long: `Show the cached status updates as a timeline table, newest data as
stored. Without arguments all projects are included; with a project key
only that project's updates are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		return reportRun(cmd.Context(), key)
	},
}

func init() {
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "Maximum rows to show (0 = all)")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(ctx context.Context, projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	updates, err := s.ListProjectUpdates(ctx, projectKey)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		ui.Info("No cached updates. Run 'atlas-xray scan <page>' first.")
		return nil
	}
	if reportLimit > 0 && len(updates) > reportLimit {
		updates = updates[:reportLimit]
	}

	table := ui.Table([]string{"Project", "Date", "State", "Due Date", "Quality", "Summary"})
	for _, u := range updates {
		table.Append([]string{
			output.Cyan(u.ProjectKey),
			shortDate(u.CreationDate),
			output.StateColor(u.State),
			dueDateChange(u),
			qualityCell(u),
			truncateSummary(quality.ExtractText(u.Summary), 48),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(ui.Out)
	ui.Info("%d updates shown", len(updates))
	return nil
}

// shortDate trims an ISO-ish timestamp to its date part. Free-form dates
// pass through unchanged.
func shortDate(s string) string {
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}

// dueDateChange renders old → new when the due date moved.
func dueDateChange(u *models.ProjectUpdate) string {
	if u.NewDueDate == "" {
		return "-"
	}
	if u.OldDueDate != "" && u.OldDueDate != u.NewDueDate {
		return fmt.Sprintf("%s -> %s", shortDate(u.OldDueDate), output.Yellow(shortDate(u.NewDueDate)))
	}
	return shortDate(u.NewDueDate)
}

func qualityCell(u *models.ProjectUpdate) string {
	if !u.Analyzed || u.UpdateQuality == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", output.QualityColor(*u.UpdateQuality), u.QualityLevel)
}

func truncateSummary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
