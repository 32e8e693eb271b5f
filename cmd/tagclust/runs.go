package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/hurttlocker/tagclust/internal/config"
	"github.com/hurttlocker/tagclust/internal/mcp"
	"github.com/hurttlocker/tagclust/internal/store"
)

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", store.DefaultListLimit, "maximum number of runs")
	offset := fs.Int("offset", 0, "runs to skip")
	name := fs.String("name", "", "only runs with this name")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\nusage: tagclust runs [--limit N] [--offset N] [--name NAME] [--json]", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg, err := resolveConfig(nil)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(context.Background(), store.ListOpts{Limit: *limit, Offset: *offset, Name: *name})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, runs)
	}
	printRuns(os.Stdout, runs, time.Now())
	return nil
}

func printRuns(w io.Writer, runs []*store.RunSummary, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMETRIC\tCOUNTS\tTAGS\tPOSTS\tSTARTED")
	for _, r := range runs {
		metric := fmt.Sprintf("%d", r.Metric)
		if r.Weighted {
			metric += "w"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Name, metric, joinInts(r.Counts), r.TagCount,
			humanize.Comma(int64(r.PostCount)), humanize.RelTime(r.StartedAt, now, "ago", "from now"))
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// singleID parses a subcommand that takes exactly one run ID.
func singleID(cmd string, args []string, extra func(fs *flag.FlagSet)) (string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(interleave(fs, args)); err != nil {
		return "", err
	}
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("usage: tagclust %s <id>", cmd)
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func runShow(args []string) error {
	var jsonOut *bool
	var onlyK *int
	id, err := singleID("show", args, func(fs *flag.FlagSet) {
		jsonOut = fs.Bool("json", false, "print JSON")
		onlyK = fs.Int("k", 0, "only show clusters for this count")
	})
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(nil)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.GetRun(context.Background(), id)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, mcp.RunDetail{Run: run, Clusters: run.Clusters()})
	}
	printRun(os.Stdout, run, *onlyK)
	return nil
}

func printRun(w io.Writer, run *store.Run, onlyK int) {
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.Name)
	fmt.Fprintf(w, "  metric %d, %s, seed %d", run.Metric, weightedLabel(run.Weighted), run.SweepSeed)
	if run.LabelSeed != nil {
		fmt.Fprintf(w, ", label seed %d", *run.LabelSeed)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  requested %d..%d, explored %d..%d", run.KMin, run.KMax, run.EffectiveKMin, run.EffectiveKMax)
	if run.Clamped {
		fmt.Fprint(w, " (clamped)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %d tags over %s posts, started %s, took %s\n",
		len(run.Tags), humanize.Comma(int64(run.PostCount)),
		run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	for _, p := range []string{run.AssociationsPath, run.ClassificationsPath, run.OutputPath} {
		if p != "" {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  K\tSILHOUETTE\tINERTIA\tRANK")
	for _, sc := range run.Scores {
		rank := "-"
		if sc.Rank > 0 {
			rank = fmt.Sprintf("%d", sc.Rank)
		}
		fmt.Fprintf(tw, "  %d\t%.4f\t%.4f\t%s\n", sc.K, sc.Silhouette, sc.Inertia, rank)
	}
	tw.Flush()

	clusters := run.Clusters()
	counts := make([]int, 0, len(clusters))
	for k := range clusters {
		if onlyK == 0 || k == onlyK {
			counts = append(counts, k)
		}
	}
	sort.Ints(counts)
	for _, k := range counts {
		fmt.Fprintf(w, "\nClustering Size %d\n", k)
		for _, c := range clusters[k] {
			fmt.Fprintf(w, "  [%d] %s posts: %s\n", c.Label, strings.Join(c.Tags, ", "), humanize.Comma(int64(c.Posts)))
		}
	}
}

func runDelete(args []string) error {
	id, err := singleID("delete", args, nil)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(nil)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := s.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s (%s)\n", run.ID, run.Name)
	return nil
}

func runStats(args []string) error {
	if len(args) > 0 && args[0] != "--json" {
		return fmt.Errorf("usage: tagclust stats [--json]")
	}
	cfg, err := resolveConfig(nil)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return writeJSON(os.Stdout, stats)
	}
	printStats(os.Stdout, cfg.DBPath.Value, stats)
	return nil
}

func printStats(w io.Writer, path string, stats *store.StoreStats) {
	fmt.Fprintf(w, "Store:   %s (%s)\n", path, humanize.Bytes(uint64(stats.DBSizeBytes)))
	fmt.Fprintf(w, "Runs:    %s\n", humanize.Comma(stats.RunCount))
	fmt.Fprintf(w, "Tags:    %s\n", humanize.Comma(stats.TagCount))
	fmt.Fprintf(w, "Labels:  %s\n", humanize.Comma(stats.LabelCount))
	if stats.LastRunAt != nil {
		fmt.Fprintf(w, "Last:    %s\n", humanize.Time(*stats.LastRunAt))
	}
}

func runConfig(args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}
	jsonOut := len(args) > 1 && args[1] == "--json"

	switch sub {
	case "keys":
		for _, k := range config.Keys() {
			fmt.Printf("%s\t--%s\n", k, config.FlagName(k))
		}
		return nil
	case "path":
		path := globalConfigPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Println(path)
		return nil
	case "show", "--json":
		if sub == "--json" {
			jsonOut = true
		}
	default:
		return fmt.Errorf("usage: tagclust config [show|keys|path] [--json]")
	}

	cfg, err := resolveConfig(nil)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(os.Stdout, cfg)
	}
	printConfig(os.Stdout, cfg)
	return nil
}

func printConfig(w io.Writer, cfg config.ResolvedConfig) {
	fmt.Fprintf(w, "Config file: %s\n\n", cfg.ConfigPath)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, k := range config.Keys() {
		v, _ := cfg.Get(k)
		value := v.Value
		if value == "" {
			value = "(unset)"
		}
		source := string(v.Source)
		if v.From != "" && v.Source != config.SourceDefault {
			source += " " + v.From
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k, value, source)
	}
	tw.Flush()
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	plots := fs.Bool("plots", false, "write diagnostic plots for runs")
	collect := configFlags(fs, "db_path")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\nusage: tagclust mcp [--plots] [flags]", err)
	}

	cfg, err := resolveConfig(collect())
	if err != nil {
		return err
	}
	clustering, err := cfg.Clustering()
	if err != nil {
		return err
	}
	xlsx, err := cfg.WriteXLSX()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return mcp.Serve(mcp.ServerConfig{
		Store:        s,
		Version:      version,
		Options:      pipelineOptions(clustering),
		Columns:      cfg.Columns(),
		OutputDir:    cfg.OutputDir.Value,
		XLSX:         xlsx,
		Plots:        *plots,
		InertiaPlots: clustering.InertiaPlots,
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
