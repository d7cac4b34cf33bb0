// Package mcp exposes the atlas-xray cache as MCP tools so agents can query
// cached project timelines and quality scores.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/quality"
	"github.com/jordanlewiz/atlas-xray/internal/store"
)

// Server wraps the cache and analyzer and exposes them as MCP tools.
type Server struct {
	store    store.Store
	analyzer *quality.Analyzer
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{
		store:    s,
		analyzer: quality.NewAnalyzer(),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("atlas-xray", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.projectTimelineTool())
	srv.AddTool(s.analyzeUpdateTool())
	srv.AddTool(s.cacheStatsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// xray_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xray_list_projects",
		mcp.WithDescription("List cached projects. Returns a JSON array with projectKey and fetchedAt for every cached snapshot."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjectSnapshots(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	type projectOut struct {
		ProjectKey string `json:"projectKey"`
		FetchedAt  string `json:"fetchedAt"`
	}
	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectOut{ProjectKey: p.ProjectKey, FetchedAt: p.FetchedAt.Format("2006-01-02 15:04:05")}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// xray_project_timeline
func (s *Server) projectTimelineTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xray_project_timeline",
		mcp.WithDescription("Get a project's cached status timeline: all updates (with quality scores) and status history entries, in insertion order."),
		mcp.WithString("projectKey", mcp.Required(), mcp.Description("Project key, e.g. ORG-123")),
	)
	return tool, s.handleProjectTimeline
}

func (s *Server) handleProjectTimeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("projectKey")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: projectKey"), nil
	}

	updates, err := s.store.ListProjectUpdates(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list updates: %v", err)), nil
	}
	history, err := s.store.ListStatusHistory(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list status history: %v", err)), nil
	}

	result := map[string]any{
		"projectKey": key,
		"updates":    updates,
		"history":    history,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal timeline: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// xray_analyze_update
func (s *Server) analyzeUpdateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xray_analyze_update",
		mcp.WithDescription("Score a project update's text with the rule-based quality analyzer. Returns score (0-100), level, missing info, and recommendations."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Update text to score")),
		mcp.WithString("updateType", mcp.Description("Update type: paused, off-track, at-risk, on-track, pending, done, prioritization")),
		mcp.WithString("state", mcp.Description("Status tag, used when updateType is absent")),
	)
	return tool, s.handleAnalyzeUpdate
}

func (s *Server) handleAnalyzeUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	updateType := request.GetString("updateType", "")
	state := request.GetString("state", "")

	result := s.analyzer.Analyze(text, models.UpdateType(updateType), state)

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// xray_cache_stats
func (s *Server) cacheStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xray_cache_stats",
		mcp.WithDescription("Get cache statistics: cached projects, updates, analyzed updates, and status history entries."),
	)
	return tool, s.handleCacheStats
}

func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.CacheStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
