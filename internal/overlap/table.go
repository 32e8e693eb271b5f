// Package overlap computes directed tag-overlap scores from a post↔tag
// association table.
//
// A tag's "post set" is every distinct post carrying it. The overlap of A given
// B is the fraction of B's posts that also carry A, so the resulting matrix is
// not symmetric: a rare tag that always appears next to a common one is fully
// contained in it, but not the other way round.
package overlap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrMissingValue     = errors.New("association row has a missing value")
	ErrNoTags           = errors.New("no significant tags selected")
	ErrDuplicateTag     = errors.New("duplicated tag")
	ErrTagWithoutPosts  = errors.New("selected tag has no posts")
	ErrEmptyPostSet     = errors.New("empty post set")
	ErrUnknownMetric    = errors.New("unknown overlap metric")
	ErrUnknownTag       = errors.New("unknown tag")
	ErrWeightsDimension = errors.New("weights do not match matrix dimension")
)

// Association links one post to one tag.
type Association struct {
	PostID string
	Tag    string
}

// AssociationTable is a deduplicated many-to-many post↔tag relation with each
// tag's post set precomputed.
type AssociationTable struct {
	rows       []Association
	postsByTag map[string]map[string]struct{}
	posts      map[string]struct{}
}

// NewAssociationTable validates and deduplicates rows. A row with an empty post
// ID or tag is a fatal input error; nothing is dropped silently.
func NewAssociationTable(rows []Association) (*AssociationTable, error) {
	t := &AssociationTable{
		rows:       make([]Association, 0, len(rows)),
		postsByTag: make(map[string]map[string]struct{}),
		posts:      make(map[string]struct{}),
	}

	for i, r := range rows {
		post := strings.TrimSpace(r.PostID)
		tag := strings.TrimSpace(r.Tag)
		if post == "" || tag == "" {
			return nil, fmt.Errorf("row %d (post %q, tag %q): %w", i+1, r.PostID, r.Tag, ErrMissingValue)
		}

		set, ok := t.postsByTag[tag]
		if !ok {
			set = make(map[string]struct{})
			t.postsByTag[tag] = set
		}
		if _, dup := set[post]; dup {
			continue
		}
		set[post] = struct{}{}
		t.posts[post] = struct{}{}
		t.rows = append(t.rows, Association{PostID: post, Tag: tag})
	}

	return t, nil
}

// Rows returns the deduplicated rows in first-seen order.
func (t *AssociationTable) Rows() []Association {
	return append([]Association(nil), t.rows...)
}

// Len is the number of distinct (post, tag) pairs.
func (t *AssociationTable) Len() int { return len(t.rows) }

// PostCount is the number of distinct posts carrying tag.
func (t *AssociationTable) PostCount(tag string) int {
	return len(t.postsByTag[tag])
}

// TotalPosts is the number of distinct posts in the table.
func (t *AssociationTable) TotalPosts() int { return len(t.posts) }

// HasTag reports whether any post carries tag.
func (t *AssociationTable) HasTag(tag string) bool {
	_, ok := t.postsByTag[tag]
	return ok
}

// Tags returns every tag in the table, sorted.
func (t *AssociationTable) Tags() []string {
	tags := make([]string, 0, len(t.postsByTag))
	for tag := range t.postsByTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// PostsOf returns the sorted post IDs carrying tag.
func (t *AssociationTable) PostsOf(tag string) []string {
	set := t.postsByTag[tag]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *AssociationTable) postSet(tag string) map[string]struct{} {
	return t.postsByTag[tag]
}

// complementSet returns all posts in the table that do not carry tag.
func (t *AssociationTable) complementSet(tag string) map[string]struct{} {
	with := t.postsByTag[tag]
	out := make(map[string]struct{}, len(t.posts)-len(with))
	for id := range t.posts {
		if _, ok := with[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// ClassificationRow is one row of the per-tag statistical test results.
type ClassificationRow struct {
	Tag            string
	Classification string
}

// TagStat describes one selected tag.
type TagStat struct {
	Tag       string
	Increases bool
	PostCount int
}

// ParseClassification maps a classification value to an effect direction.
// ok is false for tags that are not significant in either direction.
func ParseClassification(v string) (increases bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "greater", "increases", "increase":
		return true, true
	case "less", "decreases", "decrease":
		return false, true
	}
	return false, false
}

// SelectTags keeps the tags classified as increasing or decreasing the outcome,
// in input order, and attaches each one's distinct post count.
func SelectTags(rows []ClassificationRow, table *AssociationTable) ([]TagStat, error) {
	seen := make(map[string]struct{})
	out := make([]TagStat, 0, len(rows))

	for _, r := range rows {
		increases, ok := ParseClassification(r.Classification)
		if !ok {
			continue
		}
		tag := strings.TrimSpace(r.Tag)
		if tag == "" {
			return nil, fmt.Errorf("classification row with empty tag: %w", ErrMissingValue)
		}
		if _, dup := seen[tag]; dup {
			return nil, fmt.Errorf("%q: %w", tag, ErrDuplicateTag)
		}
		seen[tag] = struct{}{}

		count := table.PostCount(tag)
		if count == 0 {
			return nil, fmt.Errorf("%q: %w", tag, ErrTagWithoutPosts)
		}
		out = append(out, TagStat{Tag: tag, Increases: increases, PostCount: count})
	}

	if len(out) == 0 {
		return nil, ErrNoTags
	}
	return out, nil
}

// TagNames extracts the tag column from stats.
func TagNames(stats []TagStat) []string {
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = s.Tag
	}
	return out
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for id := range a {
		if _, ok := b[id]; ok {
			n++
		}
	}
	return n
}
