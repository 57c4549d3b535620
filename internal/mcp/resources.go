package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/polismap/internal/dataset"
)

func registerDatasetsResource(s *server.MCPServer, catalog dataset.Catalog) {
	resource := mcp.NewResource(
		"polismap://datasets",
		"Datasets",
		mcp.WithResourceDescription("The dataset catalog: every generated map's slug and display label."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runMu.Lock()
		defer runMu.Unlock()

		entries, err := catalog.Entries()
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}

		payload := map[string]interface{}{
			"datasets": entries,
			"count":    len(entries),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
