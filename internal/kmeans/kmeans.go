// Package kmeans fits K-Means (Lloyd iterations, k-means++ seeding, several
// restarts keeping the lowest inertia) and scores partitions by silhouette.
//
// Randomness comes only from Options.Source, so a seeded source gives
// bit-identical results across runs.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultInits   = 10
	DefaultMaxIter = 300
	DefaultTol     = 1e-4
)

var (
	ErrEmptyData        = errors.New("no data points")
	ErrInvalidK         = errors.New("invalid cluster count")
	ErrLabelsMismatch   = errors.New("labels do not match data")
	ErrSilhouetteLabels = errors.New("silhouette needs between 2 and n-1 distinct labels")
)

// Options controls one Fit call.
type Options struct {
	K       int
	Inits   int     // restarts; the lowest-inertia run wins
	MaxIter int     // Lloyd iterations per restart
	Tol     float64 // relative to the mean per-feature variance
	// Source drives seeding. nil means a fresh unseeded source.
	Source rand.Source
}

// Result is the best restart.
type Result struct {
	Labels     []int
	Centroids  [][]float64
	Inertia    float64
	Iterations int
}

// Fit clusters the rows of data into opts.K groups.
func Fit(data mat.Matrix, opts Options) (*Result, error) {
	points := rows(data)
	n := len(points)
	if n == 0 {
		return nil, ErrEmptyData
	}
	if opts.K < 1 || opts.K > n {
		return nil, fmt.Errorf("k=%d for %d points: %w", opts.K, n, ErrInvalidK)
	}
	if opts.Inits <= 0 {
		opts.Inits = DefaultInits
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultMaxIter
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultTol
	}
	src := opts.Source
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	rng := rand.New(src)
	tol := opts.Tol * meanVariance(points)

	var best *Result
	for run := 0; run < opts.Inits; run++ {
		centers := seedPlusPlus(points, opts.K, rng)
		res := lloyd(points, centers, opts.MaxIter, tol)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// seedPlusPlus picks k initial centers, each drawn with probability
// proportional to its squared distance from the nearest center so far.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(points[rng.IntN(n)]))

	d2 := make([]float64, n)
	for i, p := range points {
		d2[i] = sqDist(p, centers[0])
	}

	for len(centers) < k {
		total := floats.Sum(d2)
		var pick int
		if total <= 0 {
			// every point coincides with a center
			pick = rng.IntN(n)
		} else {
			r := rng.Float64() * total
			pick = n - 1
			for i, d := range d2 {
				r -= d
				if r < 0 {
					pick = i
					break
				}
			}
		}
		c := clone(points[pick])
		centers = append(centers, c)
		for i, p := range points {
			if d := sqDist(p, c); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centers
}

func lloyd(points, centers [][]float64, maxIter int, tol float64) *Result {
	n, k := len(points), len(centers)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iter := 0
	for iter < maxIter {
		iter++
		changed := assign(points, centers, labels)
		relocateEmpty(points, centers, labels, k)
		next := means(points, labels, centers)

		shift := 0.0
		for c := range centers {
			shift += sqDist(centers[c], next[c])
		}
		centers = next
		if !changed || shift <= tol {
			break
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += sqDist(p, centers[labels[i]])
	}
	return &Result{Labels: labels, Centroids: centers, Inertia: inertia, Iterations: iter}
}

// assign moves each point to its nearest center. On an exact tie a point
// keeps its current label so coinciding centers cannot oscillate.
func assign(points, centers [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best := labels[i]
		bestD := math.Inf(1)
		if best >= 0 {
			bestD = sqDist(p, centers[best])
		}
		for c, center := range centers {
			if d := sqDist(p, center); d < bestD {
				best, bestD = c, d
			}
		}
		if best != labels[i] {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// relocateEmpty gives each empty cluster the point farthest from its own
// center, taken from a cluster that keeps at least one member.
func relocateEmpty(points, centers [][]float64, labels []int, k int) {
	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	for c := 0; c < k; c++ {
		if sizes[c] > 0 {
			continue
		}
		far, farD := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := sqDist(p, centers[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		if far < 0 {
			return
		}
		sizes[labels[far]]--
		labels[far] = c
		sizes[c]++
		centers[c] = clone(points[far])
	}
}

func means(points [][]float64, labels []int, prev [][]float64) [][]float64 {
	k, dim := len(prev), len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}
	for c := range sums {
		if counts[c] == 0 {
			sums[c] = clone(prev[c])
			continue
		}
		floats.Scale(1/float64(counts[c]), sums[c])
	}
	return sums
}

func meanVariance(points [][]float64) float64 {
	dim := len(points[0])
	col := make([]float64, len(points))
	total := 0.0
	for j := 0; j < dim; j++ {
		for i, p := range points {
			col[i] = p[j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(dim)
}

func rows(m mat.Matrix) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }
