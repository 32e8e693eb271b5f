package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hurttlocker/tagclust/internal/overlap"
)

// Default column names.
const (
	DefaultPostColumn           = "ID"
	DefaultTagColumn            = "Class"
	DefaultClassificationColumn = "Classification"
)

// Columns maps logical fields to header names. Empty fields use defaults.
type Columns struct {
	Post           string `yaml:"post" json:"post"`
	Tag            string `yaml:"tag" json:"tag"`
	Classification string `yaml:"classification" json:"classification"`
}

// Normalize fills empty names with defaults.
func (c *Columns) Normalize() {
	if c.Post == "" {
		c.Post = DefaultPostColumn
	}
	if c.Tag == "" {
		c.Tag = DefaultTagColumn
	}
	if c.Classification == "" {
		c.Classification = DefaultClassificationColumn
	}
}

// LoadAssociations reads a post/tag table. A row missing either value is an
// input error naming the row.
func LoadAssociations(ctx context.Context, path string, cols Columns) ([]overlap.Association, error) {
	cols.Normalize()
	t, err := Read(ctx, path)
	if err != nil {
		return nil, err
	}
	postCol, err := t.Column(cols.Post)
	if err != nil {
		return nil, err
	}
	tagCol, err := t.Column(cols.Tag)
	if err != nil {
		return nil, err
	}

	out := make([]overlap.Association, 0, len(t.Rows))
	for _, row := range t.Rows {
		post, tag := row.Values[postCol], row.Values[tagCol]
		if post == "" || tag == "" {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), row.Line, overlap.ErrMissingValue)
		}
		out = append(out, overlap.Association{PostID: post, Tag: tag})
	}
	return out, nil
}

// LoadClassifications reads a tag/classification table. Rows with an empty
// classification are kept and later treated as not significant; an empty
// tag next to a classification is an input error.
func LoadClassifications(ctx context.Context, path string, cols Columns) ([]overlap.ClassificationRow, error) {
	cols.Normalize()
	t, err := Read(ctx, path)
	if err != nil {
		return nil, err
	}
	tagCol, err := t.Column(cols.Tag)
	if err != nil {
		return nil, err
	}
	classCol, err := t.Column(cols.Classification)
	if err != nil {
		return nil, err
	}

	out := make([]overlap.ClassificationRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		tag, class := row.Values[tagCol], row.Values[classCol]
		if tag == "" && class == "" {
			continue
		}
		if tag == "" {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), row.Line, overlap.ErrMissingValue)
		}
		out = append(out, overlap.ClassificationRow{Tag: tag, Classification: class})
	}
	return out, nil
}
