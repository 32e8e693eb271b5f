package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v2"

	"github.com/hurttlocker/tagclust/internal/config"
	"github.com/hurttlocker/tagclust/internal/logging"
	"github.com/hurttlocker/tagclust/internal/overlap"
	"github.com/hurttlocker/tagclust/internal/pipeline"
	"github.com/hurttlocker/tagclust/internal/plot"
)

// configFlags registers one flag per config key on fs. Boolean keys become
// boolean flags. The returned function collects the flags the user actually
// set, keyed by config key.
func configFlags(fs *flag.FlagSet, skip ...string) func() map[string]string {
	boolKeys := map[string]bool{"xlsx": true, "clustering.weighted": true, "clustering.inertia_plots": true}
	skipped := map[string]bool{}
	for _, k := range skip {
		skipped[k] = true
	}

	byFlag := map[string]string{}
	for _, key := range config.Keys() {
		if skipped[key] {
			continue
		}
		name := config.FlagName(key)
		byFlag[name] = key
		usage := "overrides " + key
		if boolKeys[key] {
			fs.Bool(name, false, usage)
		} else {
			fs.String(name, "", usage)
		}
	}

	return func() map[string]string {
		cli := map[string]string{}
		fs.Visit(func(f *flag.Flag) {
			if key, ok := byFlag[f.Name]; ok {
				cli[key] = f.Value.String()
			}
		})
		return cli
	}
}

type runArgs struct {
	associations    string
	classifications string
	name            string
	noPlots         bool
	noStore         bool
	jsonOut         bool
	cli             map[string]string
}

func parseRunArgs(args []string) (runArgs, error) {
	var ra runArgs
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	assoc := fs.String("associations", "", "post/tag association table")
	class := fs.String("classifications", "", "tag classification table")
	name := fs.String("name", "", "run name")
	noPlots := fs.Bool("no-plots", false, "skip diagnostic plots")
	noStore := fs.Bool("no-store", false, "do not record the run")
	jsonOut := fs.Bool("json", false, "print the summary as JSON")
	collect := configFlags(fs, "db_path")

	if err := fs.Parse(interleave(fs, args)); err != nil {
		return ra, fmt.Errorf("%w\nusage: tagclust run <associations> <classifications> [flags]", err)
	}

	ra.associations, ra.classifications = *assoc, *class
	rest := fs.Args()
	if ra.associations == "" && len(rest) > 0 {
		ra.associations, rest = rest[0], rest[1:]
	}
	if ra.classifications == "" && len(rest) > 0 {
		ra.classifications, rest = rest[0], rest[1:]
	}
	if len(rest) > 0 {
		return ra, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if ra.associations == "" || ra.classifications == "" {
		return ra, fmt.Errorf("usage: tagclust run <associations> <classifications> [flags]")
	}

	ra.name = strings.TrimSpace(*name)
	ra.noPlots, ra.noStore, ra.jsonOut = *noPlots, *noStore, *jsonOut
	ra.cli = collect()
	return ra, nil
}

// interleave moves positional arguments after the flags so that
// "run a.csv b.csv --metric 2" parses the same as the flags-first form.
func interleave(fs *flag.FlagSet, args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.Contains(name, "=") {
			continue
		}
		if f := fs.Lookup(name); f != nil && !isBoolFlag(f) && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(f *flag.Flag) bool {
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func runRun(args []string) error {
	ra, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(ra.cli)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := pipeline.LoadInput(ctx, ra.associations, ra.classifications, cfg.Columns())
	if err != nil {
		return err
	}
	if ra.name != "" {
		in.Name = ra.name
	}

	opts := pipelineOptions(clustering)
	outDir := cfg.OutputDir.Value
	if !ra.noPlots {
		opts.Plotter = plot.NewScorePlotter(outDir, in.Name,
			plot.FileTag(clustering.Metric, clustering.Weighted), clustering.InertiaPlots)
	}
	bars := newStageBars(os.Stderr)
	opts.Progress = bars.update

	res, err := pipeline.Run(ctx, in, opts)
	bars.finish()
	if err != nil {
		return err
	}

	paths, err := res.WriteOutputs(outDir, xlsx)
	if err != nil {
		return fmt.Errorf("writing outputs: %w", err)
	}

	saved := false
	if !ra.noStore {
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.SaveRun(ctx, res.Record(ra.associations, ra.classifications, paths[0])); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		saved = true
	}

	if ra.jsonOut {
		return printRunJSON(os.Stdout, res, paths, saved)
	}
	printRunSummary(os.Stdout, res, paths, saved)
	return nil
}

func pipelineOptions(c config.Clustering) pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Metric = overlap.Variant(c.Metric)
	opts.Weighted = c.Weighted
	opts.MinK, opts.MaxK = c.KMin, c.KMax
	opts.TopN = c.TopN
	opts.SweepSeed = c.SweepSeed
	opts.LabelSeed = c.LabelSeed
	opts.SweepInits, opts.LabelInits = c.SweepInits, c.LabelInits
	return opts
}

// stageBars draws one progress bar per pipeline stage.
type stageBars struct {
	w       io.Writer
	current pipeline.Stage
	bar     *progressbar.ProgressBar
}

func newStageBars(w io.Writer) *stageBars { return &stageBars{w: w} }

func (b *stageBars) update(stage pipeline.Stage, done, total int) {
	if b.bar == nil || stage != b.current {
		b.finish()
		b.current = stage
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionSetDescription(string(stage)),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = b.bar.Set(done)
}

func (b *stageBars) finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
	}
}

func printRunSummary(w io.Writer, res *pipeline.Result, paths []string, saved bool) {
	fmt.Fprintf(w, "Run %s (%s)\n", res.RunID, res.Name)
	fmt.Fprintf(w, "  metric %d, %s\n", res.Metric, weightedLabel(res.Weighted))
	fmt.Fprintf(w, "  %s tags over %s posts\n", humanize.Comma(int64(len(res.Stats))), humanize.Comma(int64(res.PostCount)))
	if res.Sweep.Clamped {
		fmt.Fprintf(w, "  cluster counts clamped to %d..%d\n", res.Sweep.Effective.Min, res.Sweep.Effective.Max)
	}

	fmt.Fprintln(w, "\n  K   Silhouette   Inertia")
	for _, s := range res.Sweep.Scores {
		fmt.Fprintf(w, "  %-3d %10.4f %9.4f\n", s.K, s.Silhouette, s.Inertia)
	}
	fmt.Fprintf(w, "\n  Labeled counts: %s\n", joinInts(res.Counts))

	for _, p := range paths {
		fmt.Fprintf(w, "  Wrote %s\n", p)
	}
	if saved {
		fmt.Fprintf(w, "  Saved run %s\n", res.RunID)
	}
	fmt.Fprintf(w, "  Took %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	logging.Debug().Str("run_id", res.RunID).Int("rows", len(res.Sheet.Rows)).Msg("summary printed")
}

func printRunJSON(w io.Writer, res *pipeline.Result, paths []string, saved bool) error {
	type score struct {
		K          int     `json:"k"`
		Inertia    float64 `json:"inertia"`
		Silhouette float64 `json:"silhouette"`
	}
	payload := struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Metric   int      `json:"metric"`
		Weighted bool     `json:"weighted"`
		Counts   []int    `json:"counts"`
		Scores   []score  `json:"scores"`
		Tags     int      `json:"tags"`
		Posts    int      `json:"posts"`
		Outputs  []string `json:"outputs"`
		Saved    bool     `json:"saved"`
	}{
		ID:       res.RunID,
		Name:     res.Name,
		Metric:   int(res.Metric),
		Weighted: res.Weighted,
		Counts:   res.Counts,
		Tags:     len(res.Stats),
		Posts:    res.PostCount,
		Outputs:  paths,
		Saved:    saved,
	}
	for _, s := range res.Sweep.Scores {
		payload.Scores = append(payload.Scores, score{K: s.K, Inertia: s.Inertia, Silhouette: s.Silhouette})
	}
	return writeJSON(w, payload)
}

func weightedLabel(weighted bool) string {
	if weighted {
		return "weighted"
	}
	return "unweighted"
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
