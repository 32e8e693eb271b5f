package kmeans

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Silhouette returns the mean silhouette coefficient over every row of data
// for the given labels. Points alone in their cluster score 0.
func Silhouette(data mat.Matrix, labels []int) (float64, error) {
	points := rows(data)
	n := len(points)
	if n == 0 {
		return 0, ErrEmptyData
	}
	if len(labels) != n {
		return 0, fmt.Errorf("%d labels for %d points: %w", len(labels), n, ErrLabelsMismatch)
	}

	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	if len(sizes) < 2 || len(sizes) > n-1 {
		return 0, fmt.Errorf("%d distinct labels for %d points: %w", len(sizes), n, ErrSilhouetteLabels)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Sqrt(sqDist(points[i], points[j]))
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	total := 0.0
	sums := make(map[int]float64, len(sizes))
	for i := 0; i < n; i++ {
		own := labels[i]
		if sizes[own] == 1 {
			continue
		}
		clear(sums)
		for j := 0; j < n; j++ {
			if j != i {
				sums[labels[j]] += dist[i][j]
			}
		}

		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for l, size := range sizes {
			if l == own {
				continue
			}
			if mean := sums[l] / float64(size); mean < b {
				b = mean
			}
		}

		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}

	return total / float64(n), nil
}
