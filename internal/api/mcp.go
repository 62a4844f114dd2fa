package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/imgraph/internal/graph"
	"github.com/kalambet/imgraph/internal/storage"
)

// NewMCPServer creates an MCP server exposing the scan and graph operations
// as tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"imgraph",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("imgraph indexes a folder of images and text files and builds a concept graph from them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_scan",
			mcp.WithDescription("Start scanning a directory. Only one scan runs at a time."),
			mcp.WithString("path", mcp.Description("Directory to scan"), mcp.Required()),
			mcp.WithBoolean("use_remote", mcp.Description("Analyze with a remote vision provider, falling back to local models on failure")),
			mcp.WithString("provider", mcp.Description("gemini, anthropic, openrouter, ollama or none")),
			mcp.WithString("model", mcp.Description("Remote model name")),
			mcp.WithString("api_key", mcp.Description("Provider API key; defaults to the configured key")),
			mcp.WithString("base_url", mcp.Description("Provider base URL override")),
		),
		mcpStartScan(deps),
	)

	s.AddTool(
		mcp.NewTool("stop_scan",
			mcp.WithDescription("Ask the running scan to stop after the file in flight."),
		),
		mcpStopScan(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_progress",
			mcp.WithDescription("Report scan status, counters, the current file and recent log lines."),
		),
		mcpScanProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("build_graph",
			mcp.WithDescription("Build the item/concept graph as cytoscape elements."),
			mcp.WithNumber("threshold", mcp.Description("Cosine similarity threshold in [-1, 1] for similar edges")),
		),
		mcpBuildGraph(deps),
	)

	s.AddTool(
		mcp.NewTool("get_item",
			mcp.WithDescription("Fetch the stored metadata for one item."),
			mcp.WithNumber("id", mcp.Description("Item id"), mcp.Required()),
		),
		mcpGetItem(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_store",
			mcp.WithDescription("Delete every stored item. Refused while a scan is running."),
		),
		mcpResetStore(deps),
	)

	return s
}

func mcpStartScan(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		opts, err := resolveOptions(ScanRequest{
			Path:      path,
			UseRemote: req.GetBool("use_remote", false),
			Provider:  req.GetString("provider", ""),
			Model:     req.GetString("model", ""),
			APIKey:    req.GetString("api_key", ""),
			BaseURL:   req.GetString("base_url", ""),
		}, deps)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		started, err := deps.Scanner.Start(ctx, path, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("scan not started: %v", err)), nil
		}
		return mcpJSON(started)
	}
}

func mcpStopScan(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Scanner.Stop() {
			return mcpError("no scan running"), nil
		}
		return mcpText("stop requested"), nil
	}
}

func mcpScanProgress(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Scanner.Progress())
	}
}

func mcpBuildGraph(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threshold := req.GetFloat("threshold", deps.DefaultThreshold)
		if threshold < -1 || threshold > 1 {
			return mcpError(errInvalidThreshold.Error()), nil
		}
		g, err := graph.NewBuilder(deps.Store).Build(threshold)
		if err != nil {
			return mcpError(fmt.Sprintf("graph build failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{"elements": g.Elements()})
	}
}

func mcpGetItem(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetInt("id", 0)
		if id <= 0 {
			return mcpError("id must be a positive integer"), nil
		}
		item, err := deps.Store.GetItem(int64(id))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("item %d not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get item: %v", err)), nil
		}
		return mcpJSON(item)
	}
}

func mcpResetStore(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := reset(deps); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText("store cleared"), nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
