package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jordanlewiz/atlas-xray/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients query the atlas-xray cache natively for project
timelines, updates, and quality scores. Configure with:

  {
    "mcpServers": {
      "atlas-xray": { "command": "atlas-xray", "args": ["mcp"] }
    }
  }

Available tools: xray_list_projects, xray_project_timeline,
xray_analyze_update, xray_cache_stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
