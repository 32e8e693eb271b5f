package store

import "sort"

// Cluster is one aligned cluster of a stored run.
type Cluster struct {
	Label int      `json:"label"`
	Tags  []string `json:"tags"`
	Posts int      `json:"posts"`
}

// Clusters groups the run's labels into clusters per count, ordered by
// label, with tags in selection order.
func (r *Run) Clusters() map[int][]Cluster {
	order := make(map[string]int, len(r.Tags))
	for i, t := range r.Tags {
		order[t.Tag] = i
	}
	type key struct{ k, label int }
	posts := make(map[key]int, len(r.ClusterPosts))
	for _, cp := range r.ClusterPosts {
		posts[key{cp.K, cp.Label}] = cp.Posts
	}

	byK := map[int]map[int][]string{}
	for _, l := range r.Labels {
		if byK[l.K] == nil {
			byK[l.K] = map[int][]string{}
		}
		byK[l.K][l.Label] = append(byK[l.K][l.Label], l.Tag)
	}

	out := make(map[int][]Cluster, len(byK))
	for k, groups := range byK {
		clusters := make([]Cluster, 0, len(groups))
		for label, tags := range groups {
			sort.SliceStable(tags, func(i, j int) bool { return order[tags[i]] < order[tags[j]] })
			clusters = append(clusters, Cluster{Label: label, Tags: tags, Posts: posts[key{k, label}]})
		}
		sort.Slice(clusters, func(i, j int) bool { return clusters[i].Label < clusters[j].Label })
		out[k] = clusters
	}
	return out
}
