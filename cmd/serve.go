package cmd

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jordanlewiz/atlas-xray/internal/api"
	"github.com/jordanlewiz/atlas-xray/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the cache and pipeline over REST.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := viper.GetInt("port")

		s, err := getStore()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(ui.ErrOut, nil))

		run := func(r *http.Request, pageURL string) (pipeline.State, error) {
			p := pipeline.New(pipeline.Config{
				Scan:            pageScanFunc(pageURL),
				Remote:          newAtlasClient(),
				Store:           s,
				FetchLimiter:    limiterFromConfig(),
				AnalysisLimiter: limiterFromConfig(),
				Logger:          logger,
			})
			err := p.RunCompletePipeline(r.Context())
			return p.GetState(), err
		}

		srv := api.NewServer(s, run, logger)

		addr := fmt.Sprintf(":%d", port)
		ui.Info("Serving API at http://localhost%s/api/v1", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
