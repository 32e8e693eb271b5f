package overlap

import "fmt"

// Variant selects which overlap metric a run uses.
type Variant int

const (
	// VariantCoOccurrence measures raw co-occurrence of tags on posts.
	VariantCoOccurrence Variant = 1
	// VariantEffectDirection measures overlap of effect direction: a tag that
	// decreases the outcome is represented by the posts that do NOT carry it.
	VariantEffectDirection Variant = 2
)

func (v Variant) String() string {
	switch v {
	case VariantCoOccurrence:
		return "co-occurrence"
	case VariantEffectDirection:
		return "effect-direction"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Metric scores the directed overlap between two tags.
type Metric interface {
	// Overlap returns |A∩B|/|B| and |A∩B|/|A| for the metric's notion of
	// each tag's post set.
	Overlap(tagA, tagB string) (aGivenB, bGivenA float64, err error)
}

// NewMetric builds the configured metric variant. stats is only consulted by
// the effect-direction variant.
func NewMetric(v Variant, table *AssociationTable, stats []TagStat) (Metric, error) {
	switch v {
	case VariantCoOccurrence:
		return NewCoOccurrence(table), nil
	case VariantEffectDirection:
		increases := make(map[string]bool, len(stats))
		for _, s := range stats {
			increases[s.Tag] = s.Increases
		}
		return NewEffectDirection(table, increases), nil
	}
	return nil, fmt.Errorf("%d: %w", int(v), ErrUnknownMetric)
}

// CoOccurrence is the default metric: each tag is represented by the posts
// carrying it.
type CoOccurrence struct {
	table *AssociationTable
}

func NewCoOccurrence(table *AssociationTable) *CoOccurrence {
	return &CoOccurrence{table: table}
}

func (m *CoOccurrence) Overlap(tagA, tagB string) (float64, float64, error) {
	return ratio(tagA, tagB, m.table.postSet(tagA), m.table.postSet(tagB))
}

// EffectDirection represents a tag that increases the outcome by the posts
// carrying it, and a tag that decreases it by the posts not carrying it.
type EffectDirection struct {
	table     *AssociationTable
	increases map[string]bool
	sets      map[string]map[string]struct{}
}

func NewEffectDirection(table *AssociationTable, increases map[string]bool) *EffectDirection {
	return &EffectDirection{
		table:     table,
		increases: increases,
		sets:      make(map[string]map[string]struct{}),
	}
}

func (m *EffectDirection) Overlap(tagA, tagB string) (float64, float64, error) {
	setA, err := m.set(tagA)
	if err != nil {
		return 0, 0, err
	}
	setB, err := m.set(tagB)
	if err != nil {
		return 0, 0, err
	}
	return ratio(tagA, tagB, setA, setB)
}

func (m *EffectDirection) set(tag string) (map[string]struct{}, error) {
	if s, ok := m.sets[tag]; ok {
		return s, nil
	}
	inc, ok := m.increases[tag]
	if !ok {
		return nil, fmt.Errorf("%q has no classification: %w", tag, ErrUnknownTag)
	}
	var s map[string]struct{}
	if inc {
		s = m.table.postSet(tag)
	} else {
		s = m.table.complementSet(tag)
	}
	m.sets[tag] = s
	return s, nil
}

func ratio(tagA, tagB string, setA, setB map[string]struct{}) (float64, float64, error) {
	if len(setA) == 0 {
		return 0, 0, fmt.Errorf("%q: %w", tagA, ErrEmptyPostSet)
	}
	if len(setB) == 0 {
		return 0, 0, fmt.Errorf("%q: %w", tagB, ErrEmptyPostSet)
	}
	inter := float64(intersectionSize(setA, setB))
	return inter / float64(len(setB)), inter / float64(len(setA)), nil
}
