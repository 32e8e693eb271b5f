// Package pipeline runs one tag clustering end to end: tag selection, the
// overlap matrix, the cluster count sweep, labeling, alignment and post
// counts, producing the rows of the output table.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/tagclust/internal/cluster"
	"github.com/hurttlocker/tagclust/internal/ingest"
	"github.com/hurttlocker/tagclust/internal/logging"
	"github.com/hurttlocker/tagclust/internal/overlap"
	"github.com/hurttlocker/tagclust/internal/report"
)

// Stage names reported to ProgressFunc.
type Stage string

const (
	StageOverlap Stage = "overlap"
	StageSweep   Stage = "sweep"
	StageLabel   Stage = "label"
)

// ProgressFunc receives (done, total) per stage.
type ProgressFunc func(stage Stage, done, total int)

// Input is the raw data of a run.
type Input struct {
	Name            string
	Associations    []overlap.Association
	Classifications []overlap.ClassificationRow
}

// LoadInput reads both tables from disk. The run is named after the
// association file.
func LoadInput(ctx context.Context, associations, classifications string, cols ingest.Columns) (Input, error) {
	assoc, err := ingest.LoadAssociations(ctx, associations, cols)
	if err != nil {
		return Input{}, fmt.Errorf("loading associations: %w", err)
	}
	classes, err := ingest.LoadClassifications(ctx, classifications, cols)
	if err != nil {
		return Input{}, fmt.Errorf("loading classifications: %w", err)
	}
	return Input{
		Name:            BaseName(associations),
		Associations:    assoc,
		Classifications: classes,
	}, nil
}

// Options configures a run.
type Options struct {
	Metric     overlap.Variant
	Weighted   bool
	MinK       int
	MaxK       int
	TopN       int
	SweepSeed  uint64
	LabelSeed  *uint64
	SweepInits int
	LabelInits int
	MaxIter    int
	Plotter    cluster.ScorePlotter
	Progress   ProgressFunc
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Metric:     overlap.VariantCoOccurrence,
		MinK:       2,
		MaxK:       10,
		TopN:       3,
		SweepSeed:  11,
		SweepInits: cluster.DefaultSweepInits,
		LabelInits: cluster.DefaultLabelInits,
	}
}

// Result is everything a run produced.
type Result struct {
	RunID     string
	Name      string
	Metric    overlap.Variant
	Weighted  bool
	TopN      int
	SweepSeed uint64
	LabelSeed *uint64
	PostCount int

	Stats  []overlap.TagStat
	Matrix *overlap.Matrix
	Sweep  *cluster.SweepResult
	// Counts are the ranked counts, ascending.
	Counts []int
	// Clusterings are aligned, one per count, ascending by K.
	Clusterings []*cluster.Clustering
	// ClusterPosts maps count → aligned label → distinct posts.
	ClusterPosts map[int]map[int]int
	Sheet        report.Sheet

	StartedAt  time.Time
	FinishedAt time.Time
}

// Run executes the pipeline. It checks ctx between stages.
func Run(ctx context.Context, in Input, opts Options) (*Result, error) {
	started := time.Now().UTC()
	res := &Result{
		RunID:     uuid.New().String(),
		Name:      in.Name,
		Metric:    opts.Metric,
		Weighted:  opts.Weighted,
		TopN:      opts.TopN,
		SweepSeed: opts.SweepSeed,
		LabelSeed: opts.LabelSeed,
		StartedAt: started,
	}
	log := logging.With().Str("run_id", res.RunID).Str("name", in.Name).Logger()

	table, err := overlap.NewAssociationTable(in.Associations)
	if err != nil {
		return nil, fmt.Errorf("reading associations: %w", err)
	}
	stats, err := overlap.SelectTags(in.Classifications, table)
	if err != nil {
		return nil, fmt.Errorf("selecting tags: %w", err)
	}
	res.Stats = stats
	res.PostCount = table.TotalPosts()
	log.Info().Int("tags", len(stats)).Int("posts", table.TotalPosts()).Str("metric", opts.Metric.String()).Msg("tags selected")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metric, err := overlap.NewMetric(opts.Metric, table, stats)
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	m, err := overlap.Build(overlap.TagNames(stats), metric, stageProgress(opts.Progress, StageOverlap))
	if err != nil {
		return nil, fmt.Errorf("building overlap matrix: %w", err)
	}
	res.Matrix = m
	log.Debug().Dur("took", time.Since(t0)).Msg("overlap matrix built")

	var weights []float64
	if opts.Weighted {
		weights = overlap.PostShareWeights(stats)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t0 = time.Now()
	sweep, err := cluster.Sweep(m, cluster.SweepConfig{
		MinK:     opts.MinK,
		MaxK:     opts.MaxK,
		TopN:     opts.TopN,
		Seed:     opts.SweepSeed,
		Inits:    opts.SweepInits,
		MaxIter:  opts.MaxIter,
		Weights:  weights,
		Plotter:  opts.Plotter,
		Progress: stageProgress(opts.Progress, StageSweep),
	})
	if err != nil {
		return nil, fmt.Errorf("sweeping cluster counts: %w", err)
	}
	res.Sweep = sweep
	log.Info().Ints("best", sweep.Ranked).Dur("took", time.Since(t0)).Msg("cluster counts ranked")

	counts := append([]int(nil), sweep.Ranked...)
	sort.Ints(counts)
	res.Counts = counts

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t0 = time.Now()
	labeled, err := cluster.Label(m, counts, cluster.LabelConfig{
		Inits:    opts.LabelInits,
		MaxIter:  opts.MaxIter,
		Weights:  weights,
		Seed:     opts.LabelSeed,
		Progress: stageProgress(opts.Progress, StageLabel),
	})
	if err != nil {
		return nil, fmt.Errorf("labeling tags: %w", err)
	}
	raw := make([]*cluster.Clustering, 0, len(counts))
	for _, k := range counts {
		raw = append(raw, labeled[k])
	}
	aligned, err := cluster.AlignSequence(raw)
	if err != nil {
		return nil, err
	}
	res.Clusterings = aligned
	log.Debug().Dur("took", time.Since(t0)).Msg("tags labeled")

	res.ClusterPosts = make(map[int]map[int]int, len(aligned))
	for _, c := range aligned {
		posts, err := cluster.CountPosts(c, table)
		if err != nil {
			return nil, fmt.Errorf("counting posts for k=%d: %w", c.K(), err)
		}
		res.ClusterPosts[c.K()] = posts
	}

	res.Sheet = buildSheet(stats, aligned, res.ClusterPosts)
	res.FinishedAt = time.Now().UTC()
	log.Info().Dur("took", res.FinishedAt.Sub(started)).Msg("run complete")
	return res, nil
}

// OutputName is the CSV file name of the run's table.
func (r *Result) OutputName() string {
	return report.OutputName(r.Name, int(r.Metric), r.Weighted)
}

// buildSheet assembles the output rows, sorted by each aligned label column
// in ascending count order, then decreasing tags before increasing ones,
// then by tag.
func buildSheet(stats []overlap.TagStat, clusterings []*cluster.Clustering, posts map[int]map[int]int) report.Sheet {
	counts := make([]int, len(clusterings))
	for i, c := range clusterings {
		counts[i] = c.K()
	}

	rows := make([]report.Row, 0, len(stats))
	for _, s := range stats {
		row := report.Row{
			Tag:          s.Tag,
			Increases:    s.Increases,
			Posts:        s.PostCount,
			Labels:       make([]int, len(clusterings)),
			ClusterPosts: make([]int, len(clusterings)),
		}
		for i, c := range clusterings {
			label, _ := c.Label(s.Tag)
			row.Labels[i] = label
			row.ClusterPosts[i] = posts[c.K()][label]
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for c := range a.Labels {
			if a.Labels[c] != b.Labels[c] {
				return a.Labels[c] < b.Labels[c]
			}
		}
		if a.Increases != b.Increases {
			return !a.Increases
		}
		return a.Tag < b.Tag
	})
	return report.Sheet{Counts: counts, Rows: rows}
}

func stageProgress(fn ProgressFunc, stage Stage) func(done, total int) {
	if fn == nil {
		return nil
	}
	return func(done, total int) { fn(stage, done, total) }
}

// BaseName strips directories and the extension from an input path.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteOutputs writes the run's CSV, and its XLSX twin when xlsx is set,
// into dir and returns the written paths.
func (r *Result) WriteOutputs(dir string, xlsx bool) ([]string, error) {
	csvPath := filepath.Join(dir, r.OutputName())
	if err := report.WriteCSVFile(csvPath, r.Sheet); err != nil {
		return nil, err
	}
	paths := []string{csvPath}
	if xlsx {
		xlsxPath := filepath.Join(dir, report.XLSXName(r.OutputName()))
		if err := report.WriteXLSX(xlsxPath, r.Sheet); err != nil {
			return paths, err
		}
		paths = append(paths, xlsxPath)
	}
	return paths, nil
}
