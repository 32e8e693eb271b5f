package pipeline

import (
	"github.com/hurttlocker/tagclust/internal/store"
)

// Record converts the result into its persisted form. Input and output
// paths are provenance only and may be empty.
func (r *Result) Record(associations, classifications, output string) *store.Run {
	run := &store.Run{
		ID:                  r.RunID,
		Name:                r.Name,
		Metric:              int(r.Metric),
		Weighted:            r.Weighted,
		TopN:                r.TopN,
		SweepSeed:           r.SweepSeed,
		LabelSeed:           r.LabelSeed,
		Counts:              append([]int(nil), r.Counts...),
		AssociationsPath:    associations,
		ClassificationsPath: classifications,
		OutputPath:          output,
		PostCount:           r.PostCount,
		StartedAt:           r.StartedAt,
		FinishedAt:          r.FinishedAt,
	}

	if r.Sweep != nil {
		run.KMin, run.KMax = r.Sweep.Requested.Min, r.Sweep.Requested.Max
		run.EffectiveKMin, run.EffectiveKMax = r.Sweep.Effective.Min, r.Sweep.Effective.Max
		run.Clamped = r.Sweep.Clamped

		rank := make(map[int]int, len(r.Sweep.Ranked))
		for i, k := range r.Sweep.Ranked {
			rank[k] = i + 1
		}
		for _, sc := range r.Sweep.Scores {
			run.Scores = append(run.Scores, store.RunScore{
				K:          sc.K,
				Inertia:    sc.Inertia,
				Silhouette: sc.Silhouette,
				Rank:       rank[sc.K],
			})
		}
	}

	for _, s := range r.Stats {
		run.Tags = append(run.Tags, store.RunTag{Tag: s.Tag, Increases: s.Increases, Posts: s.PostCount})
	}

	for _, c := range r.Clusterings {
		labels := c.Labels()
		for i, tag := range c.Tags() {
			run.Labels = append(run.Labels, store.RunLabel{K: c.K(), Tag: tag, Label: labels[i]})
		}
		for _, label := range c.LabelSet() {
			run.ClusterPosts = append(run.ClusterPosts, store.ClusterPosts{
				K:     c.K(),
				Label: label,
				Posts: r.ClusterPosts[c.K()][label],
			})
		}
	}
	return run
}
