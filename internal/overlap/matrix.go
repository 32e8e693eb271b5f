package overlap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ProgressFunc is called after each pair is filled with the number of pairs
// done so far and the total.
type ProgressFunc func(done, total int)

// Matrix is the square tag×tag directed overlap matrix. Cell (a, b) is the
// fraction of b's posts that also carry a. It is immutable once built.
type Matrix struct {
	tags  []string
	index map[string]int
	data  *mat.Dense
}

// Build fills the overlap matrix for tags using metric. Pairs are visited in
// a fixed order (i ≤ j over the tag list); the diagonal is 1.0 by definition
// and never calls the metric.
func Build(tags []string, metric Metric, progress ProgressFunc) (*Matrix, error) {
	n := len(tags)
	if n == 0 {
		return nil, ErrNoTags
	}

	index := make(map[string]int, n)
	for i, tag := range tags {
		if _, dup := index[tag]; dup {
			return nil, fmt.Errorf("%q: %w", tag, ErrDuplicateTag)
		}
		index[tag] = i
	}

	data := mat.NewDense(n, n, nil)
	total := n * (n + 1) / 2
	done := 0

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				data.Set(i, i, 1.0)
			} else {
				aGivenB, bGivenA, err := metric.Overlap(tags[i], tags[j])
				if err != nil {
					return nil, fmt.Errorf("overlap of %q and %q: %w", tags[i], tags[j], err)
				}
				data.Set(i, j, aGivenB)
				data.Set(j, i, bGivenA)
			}
			done++
			if progress != nil {
				progress(done, total)
			}
		}
	}

	return &Matrix{
		tags:  append([]string(nil), tags...),
		index: index,
		data:  data,
	}, nil
}

// Len is the number of tags on each axis.
func (m *Matrix) Len() int { return len(m.tags) }

// Tags returns the axis labels in row order.
func (m *Matrix) Tags() []string { return append([]string(nil), m.tags...) }

// Index returns the row/column of tag.
func (m *Matrix) Index(tag string) (int, bool) {
	i, ok := m.index[tag]
	return i, ok
}

// At returns cell (a, b): the fraction of b's posts that also carry a.
func (m *Matrix) At(a, b string) (float64, error) {
	i, ok := m.index[a]
	if !ok {
		return 0, fmt.Errorf("%q: %w", a, ErrUnknownTag)
	}
	j, ok := m.index[b]
	if !ok {
		return 0, fmt.Errorf("%q: %w", b, ErrUnknownTag)
	}
	return m.data.At(i, j), nil
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.data)
}

// Dense returns a copy of the underlying matrix, rows in tag order.
func (m *Matrix) Dense() *mat.Dense {
	return mat.DenseCopyOf(m.data)
}

// Scaled returns a new matrix whose column j is multiplied by weights[j].
// The receiver is left untouched.
func (m *Matrix) Scaled(weights []float64) (*Matrix, error) {
	n := len(m.tags)
	if len(weights) != n {
		return nil, fmt.Errorf("%d weights for %d tags: %w", len(weights), n, ErrWeightsDimension)
	}
	out := mat.DenseCopyOf(m.data)
	for j := 0; j < n; j++ {
		col := mat.Col(nil, j, out)
		for i := range col {
			col[i] *= weights[j]
		}
		out.SetCol(j, col)
	}
	return &Matrix{tags: m.Tags(), index: m.index, data: out}, nil
}

// PostShareWeights returns 100 * posts(tag) / Σ posts for each stat, in order.
func PostShareWeights(stats []TagStat) []float64 {
	total := 0
	for _, s := range stats {
		total += s.PostCount
	}
	out := make([]float64, len(stats))
	if total == 0 {
		return out
	}
	for i, s := range stats {
		out[i] = 100.0 * float64(s.PostCount) / float64(total)
	}
	return out
}
