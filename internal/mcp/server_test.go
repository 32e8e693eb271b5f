package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/tagclust/internal/pipeline"
	"github.com/hurttlocker/tagclust/internal/store"
)

// helper: create an in-memory store
func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeScenario writes an association and a classification table with two
// tight tag pairs and a singleton.
func writeScenario(t *testing.T) (assoc, class string) {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("ID,Class\n")
	groups := []struct {
		tags     []string
		from, to int
	}{
		{[]string{"A", "B"}, 1, 4},
		{[]string{"C", "D"}, 5, 8},
		{[]string{"E"}, 9, 10},
	}
	for _, g := range groups {
		for p := g.from; p <= g.to; p++ {
			for _, tag := range g.tags {
				fmt.Fprintf(&b, "p%d,%s\n", p, tag)
			}
		}
	}
	assoc = filepath.Join(dir, "posts.csv")
	if err := os.WriteFile(assoc, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	class = filepath.Join(dir, "tests.csv")
	body := "Class,Classification\nA,greater\nB,greater\nC,less\nD,less\nE,greater\n"
	if err := os.WriteFile(class, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return assoc, class
}

func testServer(t *testing.T, st store.Store) (*server.MCPServer, string) {
	t.Helper()
	opts := pipeline.DefaultOptions()
	opts.MinK, opts.MaxK, opts.TopN = 2, 4, 2
	opts.SweepInits, opts.LabelInits = 5, 10
	seed := uint64(3)
	opts.LabelSeed = &seed
	out := t.TempDir()
	return NewServer(ServerConfig{Store: st, Version: "test", Options: opts, OutputDir: out}), out
}

// callTool invokes an MCP tool through the JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func callResource(t *testing.T, srv *server.MCPServer, uri string) string {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params":  map[string]interface{}{"uri": uri},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatal("no resource contents")
	}
	return resp.Result.Contents[0].Text
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestNewServer(t *testing.T) {
	srv := NewServer(ServerConfig{Store: setupTestStore(t)})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestRunToolLifecycle(t *testing.T) {
	st := setupTestStore(t)
	srv, out := testServer(t, st)
	assoc, class := writeScenario(t)

	result := callTool(t, srv, "tagclust_run", map[string]interface{}{
		"associations":    assoc,
		"classifications": class,
		"xlsx":            true,
	})
	if result.IsError {
		t.Fatalf("run failed: %s", getTextContent(t, result))
	}
	var summary RunSummary
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &summary); err != nil {
		t.Fatalf("parsing summary: %v", err)
	}
	if !summary.Saved || summary.Name != "posts" || summary.Tags != 5 || summary.Posts != 10 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Outputs) != 2 {
		t.Fatalf("expected csv and xlsx outputs, got %v", summary.Outputs)
	}
	if _, err := os.Stat(filepath.Join(out, "Clusterings-posts.csv")); err != nil {
		t.Fatalf("csv output missing: %v", err)
	}
	if len(summary.Scores) != 3 {
		t.Fatalf("expected scores for k=2..4, got %+v", summary.Scores)
	}

	// list
	result = callTool(t, srv, "tagclust_runs", map[string]interface{}{"limit": float64(5)})
	var runs []store.RunSummary
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &runs); err != nil {
		t.Fatalf("parsing runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.ID || runs[0].TagCount != 5 {
		t.Fatalf("runs = %+v", runs)
	}

	// detail by prefix
	result = callTool(t, srv, "tagclust_run_detail", map[string]interface{}{"id": summary.ID[:8]})
	if result.IsError {
		t.Fatalf("detail failed: %s", getTextContent(t, result))
	}
	var detail struct {
		ID       string                   `json:"id"`
		Clusters map[string][]store.Cluster `json:"clusters"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &detail); err != nil {
		t.Fatalf("parsing detail: %v", err)
	}
	if detail.ID != summary.ID {
		t.Fatalf("detail id = %q", detail.ID)
	}
	k3 := detail.Clusters["3"]
	if len(k3) != 3 {
		t.Fatalf("expected 3 clusters at k=3, got %+v", detail.Clusters)
	}
	pairs := map[string]bool{}
	for _, c := range k3 {
		pairs[strings.Join(c.Tags, "")] = true
	}
	if !pairs["AB"] || !pairs["CD"] || !pairs["E"] {
		t.Fatalf("unexpected clusters at k=3: %+v", k3)
	}

	// delete
	result = callTool(t, srv, "tagclust_delete_run", map[string]interface{}{"id": summary.ID})
	if result.IsError {
		t.Fatalf("delete failed: %s", getTextContent(t, result))
	}
	result = callTool(t, srv, "tagclust_run_detail", map[string]interface{}{"id": summary.ID})
	if !result.IsError || !strings.Contains(getTextContent(t, result), "not found") {
		t.Fatalf("expected not found after delete, got %s", getTextContent(t, result))
	}
}

func TestRunToolErrors(t *testing.T) {
	srv, _ := testServer(t, setupTestStore(t))
	assoc, class := writeScenario(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing associations", map[string]interface{}{"classifications": class}, "associations is required"},
		{"missing file", map[string]interface{}{"associations": assoc + ".nope", "classifications": class}, "load error"},
		{"bad metric", map[string]interface{}{"associations": assoc, "classifications": class, "metric": float64(7)}, "run error"},
		{"negative seed", map[string]interface{}{"associations": assoc, "classifications": class, "seed": float64(-1)}, "non-negative"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := callTool(t, srv, "tagclust_run", tc.args)
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if text := getTextContent(t, result); !strings.Contains(text, tc.want) {
				t.Fatalf("error %q does not mention %q", text, tc.want)
			}
		})
	}
}

func TestRunDetailRequiresID(t *testing.T) {
	srv, _ := testServer(t, setupTestStore(t))
	result := callTool(t, srv, "tagclust_run_detail", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error without id")
	}
}

func TestResources(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"r1", "r2"} {
		run := &store.Run{ID: id, Name: "posts", Metric: 1, Counts: []int{3}, StartedAt: now, FinishedAt: now}
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	srv, _ := testServer(t, st)

	var recent []store.RunSummary
	if err := json.Unmarshal([]byte(callResource(t, srv, recentRunsURI)), &recent); err != nil {
		t.Fatalf("parsing recent runs: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent runs, got %d", len(recent))
	}

	var stats store.StoreStats
	if err := json.Unmarshal([]byte(callResource(t, srv, statsURI)), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.RunCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}
