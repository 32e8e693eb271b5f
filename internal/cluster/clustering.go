// Package cluster turns an overlap matrix into tag clusterings: it sweeps a
// range of cluster counts, labels tags at the best counts, aligns labels
// across counts and counts the posts each cluster covers.
package cluster

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidRange   = errors.New("invalid cluster count range")
	ErrLabelCount     = errors.New("labels do not match tags")
	ErrDuplicateTag   = errors.New("duplicated tag in clustering")
	ErrTagSetMismatch = errors.New("clusterings cover different tag sets")
	ErrDuplicateJoin  = errors.New("duplicated (post, cluster) rows in join")
)

// Clustering is an immutable partition of a tag set: every tag maps to one
// label. K is the cluster count that produced it; once aligned, labels are no
// longer bounded by K.
type Clustering struct {
	k      int
	tags   []string
	labels []int
	index  map[string]int
}

// NewClustering pairs tags with labels position by position.
func NewClustering(k int, tags []string, labels []int) (*Clustering, error) {
	if len(tags) != len(labels) {
		return nil, fmt.Errorf("%d labels for %d tags: %w", len(labels), len(tags), ErrLabelCount)
	}
	index := make(map[string]int, len(tags))
	for i, tag := range tags {
		if _, dup := index[tag]; dup {
			return nil, fmt.Errorf("%q: %w", tag, ErrDuplicateTag)
		}
		index[tag] = i
	}
	return &Clustering{
		k:      k,
		tags:   append([]string(nil), tags...),
		labels: append([]int(nil), labels...),
		index:  index,
	}, nil
}

func (c *Clustering) K() int { return c.k }

func (c *Clustering) Len() int { return len(c.tags) }

// Tags returns the tags in their original order.
func (c *Clustering) Tags() []string { return append([]string(nil), c.tags...) }

// Labels returns labels aligned with Tags.
func (c *Clustering) Labels() []int { return append([]int(nil), c.labels...) }

// Label returns the label of tag.
func (c *Clustering) Label(tag string) (int, bool) {
	i, ok := c.index[tag]
	if !ok {
		return 0, false
	}
	return c.labels[i], true
}

// Members groups tags by label, each group in tag order.
func (c *Clustering) Members() map[int][]string {
	out := make(map[int][]string)
	for i, tag := range c.tags {
		out[c.labels[i]] = append(out[c.labels[i]], tag)
	}
	return out
}

// LabelSet returns the distinct labels, ascending.
func (c *Clustering) LabelSet() []int {
	seen := make(map[int]struct{})
	out := make([]int, 0)
	for _, l := range c.labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

// MaxLabel returns the largest label, or -1 for an empty clustering.
func (c *Clustering) MaxLabel() int {
	max := -1
	for _, l := range c.labels {
		if l > max {
			max = l
		}
	}
	return max
}

func (c *Clustering) sameTags(other *Clustering) bool {
	if len(c.tags) != len(other.tags) {
		return false
	}
	for _, tag := range c.tags {
		if _, ok := other.index[tag]; !ok {
			return false
		}
	}
	return true
}
