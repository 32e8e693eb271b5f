// Package plot renders sweep diagnostics as PNG line charts.
package plot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/hurttlocker/tagclust/internal/cluster"
)

const (
	chartWidth  = 6 * vg.Inch
	chartHeight = 4 * vg.Inch
)

// DirName is the subdirectory of a run's output directory that holds its
// charts.
const DirName = "clustering_scores_plots"

// ScorePlotter writes one silhouette chart per sweep and, when Inertia is
// set, an inertia (elbow) chart beside it.
type ScorePlotter struct {
	Dir     string
	Base    string
	Tag     string
	Inertia bool
}

// NewScorePlotter places the charts of a run under outDir/DirName.
func NewScorePlotter(outDir, base, tag string, inertia bool) ScorePlotter {
	return ScorePlotter{
		Dir:     filepath.Join(outDir, DirName),
		Base:    base,
		Tag:     tag,
		Inertia: inertia,
	}
}

// FileTag is the suffix that keeps charts of different metric settings
// apart: "m1", "m2w".
func FileTag(metric int, weighted bool) string {
	tag := "m" + strconv.Itoa(metric)
	if weighted {
		tag += "w"
	}
	return tag
}

// SilhouettePath is where PlotScores writes the silhouette chart.
func (p ScorePlotter) SilhouettePath() string {
	return filepath.Join(p.Dir, fmt.Sprintf("SilhouetteScore-%s-%s.png", p.Base, p.Tag))
}

// InertiaPath is where PlotScores writes the inertia chart.
func (p ScorePlotter) InertiaPath() string {
	return filepath.Join(p.Dir, fmt.Sprintf("InertiaValues-%s-%s.png", p.Base, p.Tag))
}

// PlotScores implements cluster.ScorePlotter.
func (p ScorePlotter) PlotScores(scores []cluster.Score) error {
	if len(scores) == 0 {
		return nil
	}
	if p.Dir != "" {
		if err := os.MkdirAll(p.Dir, 0o755); err != nil {
			return fmt.Errorf("creating plot dir: %w", err)
		}
	}

	sil := make(plotter.XYs, len(scores))
	for i, s := range scores {
		sil[i].X, sil[i].Y = float64(s.K), s.Silhouette
	}
	if err := save(sil, "Silhouette score", p.SilhouettePath()); err != nil {
		return err
	}

	if !p.Inertia {
		return nil
	}
	inertia := make(plotter.XYs, len(scores))
	for i, s := range scores {
		inertia[i].X, inertia[i].Y = float64(s.K), s.Inertia
	}
	return save(inertia, "Inertia", p.InertiaPath())
}

func save(xys plotter.XYs, ylabel, path string) error {
	p := gplot.New()
	p.Title.Text = ylabel + " by cluster count"
	p.X.Label.Text = "Number of clusters"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return fmt.Errorf("plotting %s: %w", filepath.Base(path), err)
	}
	points.Shape = draw.CrossGlyph{}
	p.Add(line, points)

	ticks := make([]gplot.Tick, len(xys))
	for i, xy := range xys {
		ticks[i] = gplot.Tick{Value: xy.X, Label: strconv.Itoa(int(xy.X))}
	}
	p.X.Tick.Marker = gplot.ConstantTicks(ticks)

	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("saving %s: %w", filepath.Base(path), err)
	}
	return nil
}
