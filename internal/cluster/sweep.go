package cluster

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/hurttlocker/tagclust/internal/kmeans"
	"github.com/hurttlocker/tagclust/internal/logging"
	"github.com/hurttlocker/tagclust/internal/overlap"
)

const (
	DefaultSweepInits = 20
	DefaultLabelInits = 100
)

// Range is an inclusive range of cluster counts.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Counts lists every count in the range, ascending.
func (r Range) Counts() []int {
	out := make([]int, 0, r.Max-r.Min+1)
	for k := r.Min; k <= r.Max; k++ {
		out = append(out, k)
	}
	return out
}

// Score is the fit quality at one cluster count.
type Score struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

// ScorePlotter renders sweep diagnostics.
type ScorePlotter interface {
	PlotScores(scores []Score) error
}

// SweepConfig controls Sweep.
type SweepConfig struct {
	MinK int
	MaxK int
	TopN int
	// Seed makes the sweep reproducible: every count k is fitted from a PCG
	// source seeded with (Seed, k).
	Seed    uint64
	Inits   int
	MaxIter int
	// Weights, when set, multiply matrix column j by Weights[j] before fitting.
	Weights  []float64
	Plotter  ScorePlotter
	Progress func(done, total int)
}

// SweepResult holds every score and the best counts.
type SweepResult struct {
	Requested   Range   `json:"requested"`
	Effective   Range   `json:"effective"`
	Clamped     bool    `json:"clamped"`
	TopNClamped bool    `json:"top_n_clamped"`
	Scores      []Score `json:"scores"`
	// Ranked holds at most TopN counts by silhouette, best first.
	Ranked []int `json:"ranked"`
}

// Sweep fits K-Means at each count of the (clamped) range in increasing
// order and ranks counts by silhouette.
func Sweep(m *overlap.Matrix, cfg SweepConfig) (*SweepResult, error) {
	if cfg.TopN <= 0 {
		return nil, fmt.Errorf("top_n=%d: %w", cfg.TopN, ErrInvalidRange)
	}
	eff, clamped, err := clampRange(Range{cfg.MinK, cfg.MaxK}, m.Len())
	if err != nil {
		return nil, err
	}
	if clamped {
		logging.Warn().
			Int("requested_min", cfg.MinK).Int("requested_max", cfg.MaxK).
			Int("min", eff.Min).Int("max", eff.Max).Int("tags", m.Len()).
			Msg("cluster count range clamped")
	}

	points, err := features(m, cfg.Weights)
	if err != nil {
		return nil, err
	}
	inits := cfg.Inits
	if inits <= 0 {
		inits = DefaultSweepInits
	}

	counts := eff.Counts()
	scores := make([]Score, 0, len(counts))
	for i, k := range counts {
		res, err := kmeans.Fit(points, kmeans.Options{
			K:       k,
			Inits:   inits,
			MaxIter: cfg.MaxIter,
			Source:  rand.NewPCG(cfg.Seed, uint64(k)),
		})
		if err != nil {
			return nil, fmt.Errorf("fitting k=%d: %w", k, err)
		}
		sil, err := kmeans.Silhouette(points, res.Labels)
		if err != nil {
			return nil, fmt.Errorf("silhouette k=%d: %w", k, err)
		}
		scores = append(scores, Score{K: k, Inertia: res.Inertia, Silhouette: sil})
		logging.Debug().Int("k", k).Float64("inertia", res.Inertia).Float64("silhouette", sil).Msg("sweep step")

		if cfg.Progress != nil {
			cfg.Progress(i+1, len(counts))
		}
	}

	if cfg.Plotter != nil {
		if err := cfg.Plotter.PlotScores(scores); err != nil {
			logging.Warn().Err(err).Msg("diagnostic plots skipped")
		}
	}

	ranked := rankBySilhouette(scores)
	topNClamped := cfg.TopN > len(ranked)
	if !topNClamped {
		ranked = ranked[:cfg.TopN]
	}

	return &SweepResult{
		Requested:   Range{cfg.MinK, cfg.MaxK},
		Effective:   eff,
		Clamped:     clamped,
		TopNClamped: topNClamped,
		Scores:      scores,
		Ranked:      ranked,
	}, nil
}

// clampRange keeps counts in [2, tags-1]. A range that was invalid as given,
// or a tag set too small for any valid count, is an error.
func clampRange(req Range, tags int) (Range, bool, error) {
	if req.Min > req.Max || req.Max < 2 {
		return Range{}, false, fmt.Errorf("%d..%d: %w", req.Min, req.Max, ErrInvalidRange)
	}
	limit := tags - 1
	if limit < 2 {
		return Range{}, false, fmt.Errorf("%d tags allow no cluster count: %w", tags, ErrInvalidRange)
	}

	eff := req
	if eff.Min < 2 {
		eff.Min = 2
	}
	if eff.Max > limit {
		eff.Max = limit
	}
	if eff.Min > eff.Max {
		eff.Min = eff.Max
	}
	return eff, eff != req, nil
}

// rankBySilhouette orders counts best first; equal scores keep range order.
func rankBySilhouette(scores []Score) []int {
	sorted := append([]Score(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Silhouette > sorted[j].Silhouette
	})
	out := make([]int, len(sorted))
	for i, s := range sorted {
		out[i] = s.K
	}
	return out
}

func features(m *overlap.Matrix, weights []float64) (*mat.Dense, error) {
	if weights == nil {
		return m.Dense(), nil
	}
	scaled, err := m.Scaled(weights)
	if err != nil {
		return nil, err
	}
	return scaled.Dense(), nil
}
