package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "atlas-xray"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage atlas-xray configuration.

Running bare 'atlas-xray config' is the same as 'atlas-xray config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# atlas-xray configuration
# See: atlas-xray config show (for effective values and sources)

# SQLite cache path (default: ~/.config/atlas-xray/atlas-xray.db)
# db_path: {{ .DBPath }}

# Atlas API
atlas:
  # GraphQL gateway base URL
  base_url: "{{ .AtlasBaseURL }}"

  # Atlassian cloud id for your site
  cloud_id: "{{ .AtlasCloudID }}"

  # API token (leave empty for ambient session auth)
  token: ""

  # Per-request timeout in seconds (default: 30)
  timeout_seconds: {{ .AtlasTimeout }}

# Rate limiting and backoff
rate:
  # Maximum requests per second against the Atlas API (default: 5)
  requests_per_second: {{ .RateRPS }}

  # First backoff wait after a 429, in milliseconds (default: 1000)
  base_delay_ms: {{ .RateBaseDelay }}

  # Retries of rate-limited calls before giving up (default: 3)
  max_retries: {{ .RateMaxRetries }}
`

type configTemplateData struct {
	DBPath         string
	AtlasBaseURL   string
	AtlasCloudID   string
	AtlasTimeout   int
	RateRPS        float64
	RateBaseDelay  int
	RateMaxRetries int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:         viper.GetString("db_path"),
		AtlasBaseURL:   viper.GetString("atlas.base_url"),
		AtlasCloudID:   viper.GetString("atlas.cloud_id"),
		AtlasTimeout:   viper.GetInt("atlas.timeout_seconds"),
		RateRPS:        viper.GetFloat64("rate.requests_per_second"),
		RateBaseDelay:  viper.GetInt("rate.base_delay_ms"),
		RateMaxRetries: viper.GetInt("rate.max_retries"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "ATLAS_XRAY_DB_PATH"},
	{Key: "atlas.base_url", EnvVar: "ATLAS_XRAY_ATLAS_BASE_URL"},
	{Key: "atlas.cloud_id", EnvVar: "ATLAS_XRAY_ATLAS_CLOUD_ID"},
	{Key: "atlas.token", EnvVar: "ATLAS_XRAY_ATLAS_TOKEN"},
	{Key: "atlas.timeout_seconds", EnvVar: "ATLAS_XRAY_ATLAS_TIMEOUT_SECONDS"},
	{Key: "rate.requests_per_second", EnvVar: "ATLAS_XRAY_RATE_REQUESTS_PER_SECOND"},
	{Key: "rate.base_delay_ms", EnvVar: "ATLAS_XRAY_RATE_BASE_DELAY_MS"},
	{Key: "rate.max_delay_ms", EnvVar: "ATLAS_XRAY_RATE_MAX_DELAY_MS"},
	{Key: "rate.max_retries", EnvVar: "ATLAS_XRAY_RATE_MAX_RETRIES"},
	{Key: "rate.jitter", EnvVar: "ATLAS_XRAY_RATE_JITTER"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "atlas.token" && val != "" {
			val = "(set)"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'atlas-xray config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
