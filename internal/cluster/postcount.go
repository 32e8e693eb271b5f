package cluster

import (
	"fmt"

	"github.com/hurttlocker/tagclust/internal/overlap"
)

// CountPosts returns, per cluster label, the number of distinct posts that
// carry at least one of the cluster's tags. A post with several tags in the
// same cluster counts once; a post whose tags span clusters counts in each.
func CountPosts(c *Clustering, table *overlap.AssociationTable) (map[int]int, error) {
	return CountJoined(c, table.Rows())
}

// CountJoined is CountPosts over association rows that are already
// deduplicated by (post, tag). A repeated pair would be counted through the
// join twice and is rejected with ErrDuplicateJoin.
func CountJoined(c *Clustering, rows []overlap.Association) (map[int]int, error) {
	type joinKey struct {
		post  string
		tag   string
		label int
	}
	joined := make(map[joinKey]struct{})
	posts := make(map[int]map[string]struct{})

	for _, row := range rows {
		label, ok := c.Label(row.Tag)
		if !ok {
			continue
		}
		key := joinKey{row.PostID, row.Tag, label}
		if _, dup := joined[key]; dup {
			return nil, fmt.Errorf("post %q tag %q: %w", row.PostID, row.Tag, ErrDuplicateJoin)
		}
		joined[key] = struct{}{}

		set, ok := posts[label]
		if !ok {
			set = make(map[string]struct{})
			posts[label] = set
		}
		set[row.PostID] = struct{}{}
	}

	out := make(map[int]int, len(posts))
	for _, label := range c.LabelSet() {
		out[label] = len(posts[label])
	}
	return out, nil
}

// DistinctPosts is the number of distinct posts carrying any tag of c.
func DistinctPosts(c *Clustering, table *overlap.AssociationTable) int {
	seen := make(map[string]struct{})
	for _, row := range table.Rows() {
		if _, ok := c.Label(row.Tag); ok {
			seen[row.PostID] = struct{}{}
		}
	}
	return len(seen)
}
