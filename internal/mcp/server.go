// Package mcp provides a Model Context Protocol server for polismap.
//
// It exposes the dataset catalog, per-dataset meta records and map
// generation as MCP tools, and the catalog as an MCP resource. Served over
// stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"k8s.io/klog/v2"

	"github.com/hurttlocker/polismap/internal/dataset"
	"github.com/hurttlocker/polismap/internal/pipeline"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Runner  *pipeline.Runner
	Version string // version string for MCP server info
}

// runMu serializes tool calls. mcp-go dispatches handlers concurrently and
// two runs must never write the same dataset directory at once.
var runMu sync.Mutex

// NewServer creates a configured MCP server with all polismap tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"polismap",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerDatasetsTool(s, cfg.Runner.Catalog)
	registerMetaTool(s, cfg.Runner.Meta)
	registerGenerateTool(s, cfg.Runner)

	registerDatasetsResource(s, cfg.Runner.Catalog)

	return s
}

// --- Tools ---

func registerDatasetsTool(s *server.MCPServer, catalog dataset.Catalog) {
	tool := mcp.NewTool("polismap_datasets",
		mcp.WithDescription("List every generated opinion-map dataset with its slug and display label."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runMu.Lock()
		defer runMu.Unlock()

		entries, err := catalog.Entries()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading catalog: %v", err)), nil
		}
		data, _ := json.MarshalIndent(entries, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerMetaTool(s *server.MCPServer, metas dataset.MetaStore) {
	tool := mcp.NewTool("polismap_meta",
		mcp.WithDescription("Show a dataset's meta record: source URLs, last vote timestamp, neighbor count and axis flips."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("slug",
			mcp.Required(),
			mcp.Description("Dataset slug as listed by polismap_datasets"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runMu.Lock()
		defer runMu.Unlock()

		slug, err := req.RequireString("slug")
		if err != nil || slug == "" {
			return mcp.NewToolResultError("slug is required"), nil
		}

		m, err := metas.ReadMeta(slug)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading meta for %s: %v", slug, err)), nil
		}
		if m == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no dataset %q", slug)), nil
		}

		data, _ := json.MarshalIndent(m, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// generateSummary is the compact result of polismap_generate.
type generateSummary struct {
	RunID        string   `json:"run_id"`
	Slug         string   `json:"slug"`
	Dir          string   `json:"dir"`
	Outcome      string   `json:"outcome"`
	Selector     string   `json:"selector"`
	Fallback     string   `json:"fallback,omitempty"`
	Seeded       bool     `json:"seeded"`
	Participants int      `json:"participants"`
	Statements   int      `json:"statements"`
	Projections  []string `json:"projections"`
	VotesWritten int      `json:"votes_written"`
	CatalogAdded bool     `json:"catalog_added"`
	Warnings     []string `json:"warnings,omitempty"`
}

func summarize(res *pipeline.Result) generateSummary {
	out := generateSummary{
		RunID:        res.RunID,
		Slug:         res.Slug,
		Dir:          res.Dir,
		Outcome:      string(res.Outcome),
		Selector:     res.Selector,
		Seeded:       res.Seeded,
		Participants: len(res.Participants),
		Statements:   len(res.Columns),
		Projections:  make([]string, 0, len(res.Projections)),
		VotesWritten: res.VotesWritten,
		CatalogAdded: res.CatalogAdded,
		Warnings:     res.Warnings,
	}
	if res.Fallback != nil {
		out.Fallback = res.Fallback.Reason
	}
	for _, p := range res.Projections {
		out.Projections = append(out.Projections, string(p.Algorithm))
	}
	return out
}

func registerGenerateTool(s *server.MCPServer, runner *pipeline.Runner) {
	tool := mcp.NewTool("polismap_generate",
		mcp.WithDescription("Generate or refresh an opinion map. Give only a slug to refresh a known dataset from its stored conversation URL, or give a conversation ID, report ID, Polis URL or import directory to build a new one."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("slug",
			mcp.Description("Dataset slug. Defaults to the conversation ID for new datasets."),
		),
		mcp.WithString("conversation_id",
			mcp.Description("Polis conversation ID (e.g., '2demo')"),
		),
		mcp.WithString("report_id",
			mcp.Description("Polis report ID (e.g., 'r2abc')"),
		),
		mcp.WithString("url",
			mcp.Description("Polis conversation or report URL"),
		),
		mcp.WithString("import_dir",
			mcp.Description("Directory holding previously dumped raw files"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runMu.Lock()
		defer runMu.Unlock()

		r := pipeline.Request{
			Slug:           optionalString(req, "slug"),
			ConversationID: optionalString(req, "conversation_id"),
			ReportID:       optionalString(req, "report_id"),
			URL:            optionalString(req, "url"),
			ImportDir:      optionalString(req, "import_dir"),
		}
		if r.UpdateMode() && r.Slug == "" {
			return mcp.NewToolResultError("give a slug or a conversation source"), nil
		}

		res, err := runner.Run(ctx, r)
		if err != nil {
			klog.FromContext(ctx).Error(err, "MCP generate failed", "request", r.String())
			return mcp.NewToolResultError(fmt.Sprintf("generate %s: %v", r, err)), nil
		}

		data, _ := json.MarshalIndent(summarize(res), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}
