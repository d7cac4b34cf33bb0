package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jordanlewiz/atlas-xray/internal/output"
	"github.com/jordanlewiz/atlas-xray/internal/ratelimit"
	"github.com/jordanlewiz/atlas-xray/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "atlas-xray",
	Short: "Atlas X-Ray - cache and score Atlas project status updates",
	Long: `atlas-xray scans Atlas pages for project links, fetches each project's
metadata, status history, and updates from the Atlas API, caches them in a
local SQLite database, and scores the quality of every free-text update
with a deterministic rule-based analyzer.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/atlas-xray/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "atlas-xray")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ATLAS_XRAY")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "atlas-xray")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "atlas-xray.db"))
	viper.SetDefault("atlas.base_url", "https://team.atlassian.com/gateway/api")
	viper.SetDefault("atlas.cloud_id", "")
	viper.SetDefault("atlas.token", "")
	viper.SetDefault("atlas.timeout_seconds", 30)
	viper.SetDefault("rate.requests_per_second", 5.0)
	viper.SetDefault("rate.base_delay_ms", 1000)
	viper.SetDefault("rate.max_delay_ms", 30000)
	viper.SetDefault("rate.max_retries", 3)
	viper.SetDefault("rate.jitter", 0.2)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is initialized lazily so config/version commands can run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// limiterFromConfig builds a rate limiter from the rate.* config keys.
func limiterFromConfig() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RequestsPerSecond: viper.GetFloat64("rate.requests_per_second"),
		BaseDelay:         time.Duration(viper.GetInt("rate.base_delay_ms")) * time.Millisecond,
		MaxDelay:          time.Duration(viper.GetInt("rate.max_delay_ms")) * time.Millisecond,
		MaxRetries:        viper.GetInt("rate.max_retries"),
		Jitter:            viper.GetFloat64("rate.jitter"),
	})
}
