package cluster

import (
	"fmt"
	"sort"
)

// targetGroup is one cluster of the clustering being relabeled, kept apart
// from the reference's label space until it is assigned.
type targetGroup struct {
	raw     int
	first   int
	members map[string]struct{}
}

// Align relabels target so that each of its clusters takes the label of the
// reference cluster it shares the most tags with. Target clusters are
// visited largest first and each reference label can be claimed once; a
// cluster that shares no tag with any unclaimed reference cluster gets a
// fresh label above the reference's maximum. This is greedy, not a maximum
// weight matching. The reference is not modified.
func Align(reference, target *Clustering) (*Clustering, error) {
	if !reference.sameTags(target) {
		return nil, ErrTagSetMismatch
	}

	groups := groupByLabel(target)
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].members) != len(groups[j].members) {
			return len(groups[i].members) > len(groups[j].members)
		}
		return groups[i].first < groups[j].first
	})

	refMembers := reference.Members()
	available := reference.LabelSet()
	next := reference.MaxLabel() + 1

	assigned := make(map[int]int, len(groups))
	for _, g := range groups {
		bestLabel, bestInter := -1, 0
		bestPos := -1
		for pos, label := range available {
			inter := 0
			for _, tag := range refMembers[label] {
				if _, ok := g.members[tag]; ok {
					inter++
				}
			}
			if inter > bestInter {
				bestLabel, bestInter, bestPos = label, inter, pos
			}
		}

		if bestInter > 0 {
			assigned[g.raw] = bestLabel
			available = append(available[:bestPos], available[bestPos+1:]...)
			continue
		}
		assigned[g.raw] = next
		next++
	}

	tags := target.Tags()
	labels := make([]int, len(tags))
	for i, raw := range target.labels {
		labels[i] = assigned[raw]
	}
	return NewClustering(target.k, tags, labels)
}

// AlignSequence sorts clusterings by K and aligns each one to its already
// aligned predecessor, so labels are comparable along the whole sequence.
// The smallest K keeps its labels.
func AlignSequence(clusterings []*Clustering) ([]*Clustering, error) {
	sorted := append([]*Clustering(nil), clusterings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].k < sorted[j].k })

	out := make([]*Clustering, len(sorted))
	for i, c := range sorted {
		if i == 0 {
			out[i] = c
			continue
		}
		aligned, err := Align(out[i-1], c)
		if err != nil {
			return nil, fmt.Errorf("aligning k=%d to k=%d: %w", c.k, out[i-1].k, err)
		}
		out[i] = aligned
	}
	return out, nil
}

func groupByLabel(c *Clustering) []*targetGroup {
	byRaw := make(map[int]*targetGroup)
	var order []*targetGroup
	for i, tag := range c.tags {
		raw := c.labels[i]
		g, ok := byRaw[raw]
		if !ok {
			g = &targetGroup{raw: raw, first: i, members: make(map[string]struct{})}
			byRaw[raw] = g
			order = append(order, g)
		}
		g.members[tag] = struct{}{}
	}
	return order
}
