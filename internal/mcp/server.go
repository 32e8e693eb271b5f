// Package mcp provides a Model Context Protocol server for tagclust.
//
// It exposes clustering runs as MCP tools (run, list, detail, delete) and
// the most recent runs and store statistics as MCP resources. Serves over
// stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/tagclust/internal/ingest"
	"github.com/hurttlocker/tagclust/internal/logging"
	"github.com/hurttlocker/tagclust/internal/overlap"
	"github.com/hurttlocker/tagclust/internal/pipeline"
	"github.com/hurttlocker/tagclust/internal/plot"
	"github.com/hurttlocker/tagclust/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Version string // version string for MCP server info

	// Defaults for tagclust_run; tool arguments override them.
	Options      pipeline.Options
	Columns      ingest.Columns
	OutputDir    string
	XLSX         bool
	Plots        bool
	InertiaPlots bool
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines and
// SQLite supports only one writer at a time.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all tagclust tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Options.MinK == 0 {
		cfg.Options = pipeline.DefaultOptions()
	}
	cfg.Columns.Normalize()

	s := server.NewMCPServer(
		"tagclust",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerRunTool(s, cfg)
	registerRunsTool(s, cfg.Store)
	registerRunDetailTool(s, cfg.Store)
	registerDeleteRunTool(s, cfg.Store)

	registerRecentResource(s, cfg.Store)
	registerStatsResource(s, cfg.Store)

	return s
}

// Serve runs the server over stdio until stdin closes.
func Serve(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// --- Tools ---

// RunSummary is the payload returned by tagclust_run.
type RunSummary struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Metric    int         `json:"metric"`
	Weighted  bool        `json:"weighted"`
	Counts    []int       `json:"counts"`
	Clamped   bool        `json:"clamped"`
	Tags      int         `json:"tags"`
	Posts     int         `json:"posts"`
	Outputs   []string    `json:"outputs"`
	Scores    []scoreView `json:"scores"`
	Saved     bool        `json:"saved"`
	TookMilli int64       `json:"took_ms"`
}

type scoreView struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

func registerRunTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("tagclust_run",
		mcp.WithDescription("Cluster tags by post overlap. Reads an association table (post ID, tag) and a classification table (tag, classification), sweeps cluster counts, writes the clustering table and stores the run."),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("associations",
			mcp.Required(),
			mcp.Description("Path to the post/tag association table (.csv, .tsv or .xlsx)"),
		),
		mcp.WithString("classifications",
			mcp.Required(),
			mcp.Description("Path to the tag classification table (.csv, .tsv or .xlsx)"),
		),
		mcp.WithNumber("metric",
			mcp.Description("Overlap metric: 1 = co-occurrence, 2 = effect direction"),
		),
		mcp.WithBoolean("weighted",
			mcp.Description("Weight matrix columns by each tag's share of posts"),
		),
		mcp.WithNumber("k_min", mcp.Description("Smallest cluster count to explore")),
		mcp.WithNumber("k_max", mcp.Description("Largest cluster count to explore")),
		mcp.WithNumber("top_n", mcp.Description("Number of best counts to label")),
		mcp.WithNumber("seed", mcp.Description("Sweep seed")),
		mcp.WithNumber("label_seed", mcp.Description("Labeling seed; unseeded when absent")),
		mcp.WithString("out", mcp.Description("Output directory for the clustering table")),
		mcp.WithBoolean("xlsx", mcp.Description("Write an .xlsx copy of the table (default: true)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		assoc, err := req.RequireString("associations")
		if err != nil || strings.TrimSpace(assoc) == "" {
			return mcp.NewToolResultError("associations is required"), nil
		}
		class, err := req.RequireString("classifications")
		if err != nil || strings.TrimSpace(class) == "" {
			return mcp.NewToolResultError("classifications is required"), nil
		}

		opts, err := runOptions(req, cfg.Options)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		outDir := req.GetString("out", cfg.OutputDir)
		if outDir == "" {
			outDir = "."
		}
		xlsx := req.GetBool("xlsx", cfg.XLSX)

		in, err := pipeline.LoadInput(ctx, assoc, class, cfg.Columns)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load error: %v", err)), nil
		}
		if cfg.Plots {
			opts.Plotter = plot.NewScorePlotter(outDir, in.Name,
				plot.FileTag(int(opts.Metric), opts.Weighted), cfg.InertiaPlots)
		}

		res, err := pipeline.Run(ctx, in, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run error: %v", err)), nil
		}
		paths, err := res.WriteOutputs(outDir, xlsx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("write error: %v", err)), nil
		}

		summary := RunSummary{
			ID:        res.RunID,
			Name:      res.Name,
			Metric:    int(res.Metric),
			Weighted:  res.Weighted,
			Counts:    res.Counts,
			Clamped:   res.Sweep.Clamped,
			Tags:      len(res.Stats),
			Posts:     res.PostCount,
			Outputs:   paths,
			TookMilli: res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		}
		for _, sc := range res.Sweep.Scores {
			summary.Scores = append(summary.Scores, scoreView{K: sc.K, Inertia: sc.Inertia, Silhouette: sc.Silhouette})
		}

		if cfg.Store != nil {
			if err := cfg.Store.SaveRun(ctx, res.Record(assoc, class, paths[0])); err != nil {
				logging.Warn().Err(err).Str("run_id", res.RunID).Msg("saving run")
			} else {
				summary.Saved = true
			}
		}

		data, _ := json.MarshalIndent(summary, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// runOptions overlays tool arguments on the server defaults.
func runOptions(req mcp.CallToolRequest, defaults pipeline.Options) (pipeline.Options, error) {
	opts := defaults
	opts.Progress = nil
	opts.Plotter = nil

	if v, err := req.RequireFloat("metric"); err == nil {
		opts.Metric = overlap.Variant(int(v))
	}
	opts.Weighted = req.GetBool("weighted", opts.Weighted)
	opts.MinK = req.GetInt("k_min", opts.MinK)
	opts.MaxK = req.GetInt("k_max", opts.MaxK)
	opts.TopN = req.GetInt("top_n", opts.TopN)

	if v, err := req.RequireFloat("seed"); err == nil {
		if v < 0 {
			return opts, fmt.Errorf("seed must be non-negative")
		}
		opts.SweepSeed = uint64(v)
	}
	if v, err := req.RequireFloat("label_seed"); err == nil {
		if v < 0 {
			return opts, fmt.Errorf("label_seed must be non-negative")
		}
		seed := uint64(v)
		opts.LabelSeed = &seed
	}
	return opts, nil
}

func registerRunsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("tagclust_runs",
		mcp.WithDescription("List stored clustering runs, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs (default: 20, max: 200)"),
		),
		mcp.WithNumber("offset", mcp.Description("Number of runs to skip")),
		mcp.WithString("name", mcp.Description("Only runs with this name")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return mcp.NewToolResultError("no run store configured"), nil
		}

		limit := req.GetInt("limit", store.DefaultListLimit)
		if limit > 200 {
			limit = 200
		}
		runs, err := st.ListRuns(ctx, store.ListOpts{
			Limit:  limit,
			Offset: req.GetInt("offset", 0),
			Name:   req.GetString("name", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}
		if runs == nil {
			runs = []*store.RunSummary{}
		}

		data, _ := json.MarshalIndent(runs, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// RunDetail is the payload returned by tagclust_run_detail.
type RunDetail struct {
	*store.Run
	Clusters map[int][]store.Cluster `json:"clusters"`
}

func registerRunDetailTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("tagclust_run_detail",
		mcp.WithDescription("Show a stored run: sweep scores, labeled counts, and the tags and post counts of every cluster."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Run ID or a unique prefix of one"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return mcp.NewToolResultError("no run store configured"), nil
		}
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		run, err := st.GetRun(ctx, strings.TrimSpace(id))
		if err != nil {
			return mcp.NewToolResultError(lookupError(id, err)), nil
		}

		data, _ := json.MarshalIndent(RunDetail{Run: run, Clusters: run.Clusters()}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerDeleteRunTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("tagclust_delete_run",
		mcp.WithDescription("Delete a stored run and everything recorded with it. Output files are left alone."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Run ID or a unique prefix of one"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		if st == nil {
			return mcp.NewToolResultError("no run store configured"), nil
		}
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		run, err := st.GetRun(ctx, strings.TrimSpace(id))
		if err != nil {
			return mcp.NewToolResultError(lookupError(id, err)), nil
		}
		if err := st.DeleteRun(ctx, run.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]interface{}{
			"deleted": run.ID,
			"name":    run.Name,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func lookupError(id string, err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("run %q not found", id)
	case errors.Is(err, store.ErrAmbiguousID):
		return fmt.Sprintf("run id %q is ambiguous; use more characters", id)
	}
	logging.Error().Err(err).Str("id", id).Msg("run lookup")
	return fmt.Sprintf("lookup error: %v", err)
}
