package cluster

import (
	"fmt"
	"math/rand/v2"

	"github.com/hurttlocker/tagclust/internal/kmeans"
	"github.com/hurttlocker/tagclust/internal/overlap"
)

// LabelConfig controls Label.
type LabelConfig struct {
	Inits   int
	MaxIter int
	Weights []float64
	// Seed is nil by default: final labels use fresh entropy and a larger
	// restart budget than the sweep. Set it only for reproducible runs.
	Seed     *uint64
	Progress func(done, total int)
}

// Label fits K-Means at each chosen count and returns one Clustering per
// count. Label identifiers carry no meaning beyond the partition; Align
// makes them comparable across counts.
func Label(m *overlap.Matrix, counts []int, cfg LabelConfig) (map[int]*Clustering, error) {
	points, err := features(m, cfg.Weights)
	if err != nil {
		return nil, err
	}
	inits := cfg.Inits
	if inits <= 0 {
		inits = DefaultLabelInits
	}
	tags := m.Tags()

	out := make(map[int]*Clustering, len(counts))
	for i, k := range counts {
		if _, done := out[k]; done {
			if cfg.Progress != nil {
				cfg.Progress(i+1, len(counts))
			}
			continue
		}

		var src rand.Source
		if cfg.Seed != nil {
			src = rand.NewPCG(*cfg.Seed, uint64(k))
		}
		res, err := kmeans.Fit(points, kmeans.Options{
			K:       k,
			Inits:   inits,
			MaxIter: cfg.MaxIter,
			Source:  src,
		})
		if err != nil {
			return nil, fmt.Errorf("labeling k=%d: %w", k, err)
		}

		c, err := NewClustering(k, tags, res.Labels)
		if err != nil {
			return nil, err
		}
		out[k] = c

		if cfg.Progress != nil {
			cfg.Progress(i+1, len(counts))
		}
	}
	return out, nil
}
