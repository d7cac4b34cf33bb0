package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/output"
	"github.com/jordanlewiz/atlas-xray/internal/quality"
)

var (
	analyzeAll  bool
	analyzeType string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [projectKey]",
	Short: "Run the quality analyzer over cached updates",
	Long: `Score cached updates with the rule-based quality analyzer.

By default only updates not yet analyzed are scored; --all re-scores
everything. With a project key only that project's updates are considered.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		}
		return analyzeRun(cmd.Context(), key)
	},
}

var analyzeTextCmd = &cobra.Command{
	Use:   "text <update text>",
	Short: "Score a single update text without touching the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeTextRun(args[0])
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "Re-score updates that were already analyzed")
	analyzeTextCmd.Flags().StringVar(&analyzeType, "type", "", "Update type (paused, off-track, at-risk, ...)")
	analyzeCmd.AddCommand(analyzeTextCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeRun(ctx context.Context, projectKey string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	updates, err := s.ListProjectUpdates(ctx, projectKey)
	if err != nil {
		return err
	}

	analyzer := quality.NewAnalyzer()
	scored := 0
	for _, u := range updates {
		if u.Analyzed && !analyzeAll {
			continue
		}
		if dryRun {
			ui.DryRunMsg("Would analyze update %s", u.ID)
			continue
		}

		res := analyzer.Analyze(quality.ExtractText(u.Summary), models.UpdateType(u.State), "")
		if err := s.SetUpdateAnalysis(ctx, u.ID, res.Analysis()); err != nil {
			ui.Warning("Failed to store analysis for %s: %v", u.ID, err)
			continue
		}
		scored++
		ui.VerboseLog("%s: %d/100 (%s)", u.ID, res.Score, res.Level)
	}

	ui.Success("Analyzed %d updates", scored)
	return nil
}

func analyzeTextRun(text string) error {
	res := quality.NewAnalyzer().Analyze(text, models.UpdateType(analyzeType), "")

	fmt.Fprintf(ui.Out, "Score:  %s (%s)\n", output.QualityColor(res.Score), res.Level)
	fmt.Fprintf(ui.Out, "%s\n", res.Summary)

	if len(res.MissingInfo) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Warning("Missing information:")
		for _, m := range res.MissingInfo {
			fmt.Fprintf(ui.Out, "  - %s\n", m)
		}
	}
	if len(res.Recommendations) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("Recommendations:")
		for _, r := range res.Recommendations {
			fmt.Fprintf(ui.Out, "  - %s\n", r)
		}
	}
	return nil
}
