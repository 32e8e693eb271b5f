package mcp

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/tagclust/internal/store"
)

const (
	recentRunsURI = "tagclust://runs/recent"
	statsURI      = "tagclust://stats"
)

func registerRecentResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		recentRunsURI,
		"Recent Runs",
		mcp.WithResourceDescription("The 20 most recent clustering runs."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return nil, fmt.Errorf("no run store configured")
		}
		runs, err := st.ListRuns(ctx, store.ListOpts{Limit: store.DefaultListLimit})
		if err != nil {
			return nil, fmt.Errorf("listing recent runs: %w", err)
		}
		if runs == nil {
			runs = []*store.RunSummary{}
		}

		data, _ := json.MarshalIndent(runs, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		statsURI,
		"Store Statistics",
		mcp.WithResourceDescription("Run, tag and label counts, database size and the time of the last run."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return nil, fmt.Errorf("no run store configured")
		}
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
