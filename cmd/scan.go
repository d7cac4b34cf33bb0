package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jordanlewiz/atlas-xray/internal/atlas"
	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/pipeline"
	"github.com/jordanlewiz/atlas-xray/internal/scanner"
)

var scanSkipAnalysis bool

var scanCmd = &cobra.Command{
	Use:   "scan <file|url>",
	Short: "Scan a page for project links and populate the cache",
	Long: `Scan an Atlas page for project links, then run the complete pipeline:
fetch each project's metadata, status history, and updates, store them in
the local cache, and score every update's quality.

The argument is either a saved HTML file or a page URL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanRun(cmd.Context(), args[0])
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanSkipAnalysis, "skip-analysis", false, "Skip the quality-analysis stage")
	rootCmd.AddCommand(scanCmd)
}

// newAtlasClient builds the remote client from the atlas.* config keys.
func newAtlasClient() *atlas.Client {
	timeout := time.Duration(viper.GetInt("atlas.timeout_seconds")) * time.Second
	return atlas.NewClient(
		viper.GetString("atlas.base_url"),
		viper.GetString("atlas.cloud_id"),
		viper.GetString("atlas.token"),
		atlas.WithTimeout(timeout),
	)
}

// pageScanFunc returns a ScanFunc for a saved HTML file or a live URL.
func pageScanFunc(page string) pipeline.ScanFunc {
	if _, err := os.Stat(page); err == nil {
		return func(ctx context.Context) ([]models.ProjectRef, error) {
			f, err := os.Open(page)
			if err != nil {
				return nil, fmt.Errorf("open page: %w", err)
			}
			defer func() { _ = f.Close() }()
			return scanner.ScanHTML(f)
		}
	}
	return func(ctx context.Context) ([]models.ProjectRef, error) {
		return scanner.ScanURL(ctx, &http.Client{Timeout: 30 * time.Second}, page)
	}
}

func scanRun(ctx context.Context, page string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would scan %s and populate the cache", page)
		return nil
	}

	p := pipeline.New(pipeline.Config{
		Scan:            pageScanFunc(page),
		Remote:          newAtlasClient(),
		Store:           s,
		FetchLimiter:    limiterFromConfig(),
		AnalysisLimiter: limiterFromConfig(),
		Logger:          slog.New(slog.NewTextHandler(ui.ErrOut, nil)),
	})

	unsubscribe := p.Subscribe(func(st pipeline.State) {
		ui.VerboseLog("stage=%s stored=%d updates=%d analysed=%d",
			st.CurrentStage, st.ProjectsStored, st.ProjectUpdatesStored, st.ProjectUpdatesAnalysed)
	})
	defer unsubscribe()

	runErr := runStages(ctx, p)
	st := p.GetState()

	if st.ProjectsOnPage == 0 {
		ui.Warning("No project links found on %s", page)
		return runErr
	}

	keys := make([]string, 0, len(st.ProjectIDs))
	for _, ref := range st.ProjectIDs {
		keys = append(keys, ref.ProjectKey)
	}
	ui.Info("Found %d projects: %s", st.ProjectsOnPage, strings.Join(keys, ", "))

	if runErr != nil && st.ProjectsStored == 0 {
		return runErr
	}

	ui.Success("Stored %d/%d projects, %d updates (%d analysed)",
		st.ProjectsStored, st.ProjectsOnPage, st.ProjectUpdatesStored, st.ProjectUpdatesAnalysed)
	return nil
}

// runStages runs the whole pipeline, or everything but analysis when
// --skip-analysis is set.
func runStages(ctx context.Context, p *pipeline.Pipeline) error {
	if !scanSkipAnalysis {
		return p.RunCompletePipeline(ctx)
	}

	if err := p.ScanProjectsOnPage(ctx); err != nil {
		return err
	}
	if err := p.FetchAndStoreProjects(ctx); err != nil {
		return err
	}
	return p.FetchAndStoreUpdates(ctx)
}
