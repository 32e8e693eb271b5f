// Package report writes the per-tag clustering table as CSV or XLSX.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	ColumnTag       = "Class"
	ColumnIncreases = "Increases Outcome"
	ColumnPosts     = "Posts Count"

	sheetName = "Clusterings"
)

var ErrRowShape = errors.New("row does not match cluster counts")

// Row is one tag in the output. Labels and ClusterPosts hold one entry per
// count in Sheet.Counts, in the same order.
type Row struct {
	Tag          string `json:"tag"`
	Increases    bool   `json:"increases"`
	Posts        int    `json:"posts"`
	Labels       []int  `json:"labels"`
	ClusterPosts []int  `json:"cluster_posts"`
}

// Sheet is the whole output table.
type Sheet struct {
	Counts []int
	Rows   []Row
}

// ClusterColumn names the label column for count k.
func ClusterColumn(k int) string { return "Clustering Size " + strconv.Itoa(k) }

// ClusterPostsColumn names the post count column for count k.
func ClusterPostsColumn(k int) string { return ClusterColumn(k) + " Posts Count" }

// Header returns the column names for s.
func (s Sheet) Header() []string {
	h := []string{ColumnTag, ColumnIncreases, ColumnPosts}
	for _, k := range s.Counts {
		h = append(h, ClusterColumn(k), ClusterPostsColumn(k))
	}
	return h
}

func (s Sheet) validate() error {
	for _, r := range s.Rows {
		if len(r.Labels) != len(s.Counts) || len(r.ClusterPosts) != len(s.Counts) {
			return fmt.Errorf("tag %q: %w", r.Tag, ErrRowShape)
		}
	}
	return nil
}

// Records renders s as strings, header first.
func (s Sheet) Records() ([][]string, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(s.Rows)+1)
	out = append(out, s.Header())
	for _, r := range s.Rows {
		rec := []string{r.Tag, formatBool(r.Increases), strconv.Itoa(r.Posts)}
		for i := range s.Counts {
			rec = append(rec, strconv.Itoa(r.Labels[i]), strconv.Itoa(r.ClusterPosts[i]))
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteCSV writes s to w.
func WriteCSV(w io.Writer, s Sheet) error {
	records, err := s.Records()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}

// WriteCSVFile writes s to path, creating parent directories.
func WriteCSVFile(path string, s Sheet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteXLSX writes s to a single-sheet workbook at path. Numbers and
// booleans keep their cell types.
func WriteXLSX(path string, s Sheet) error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetList()[0], sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]interface{}, 0, 3+2*len(s.Counts))
	for _, h := range s.Header() {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, r := range s.Rows {
		row := []interface{}{r.Tag, r.Increases, r.Posts}
		for j := range s.Counts {
			row = append(row, r.Labels[j], r.ClusterPosts[j])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// OutputName is the CSV file name for a run over base. The plain name is
// kept for metric 1 unweighted; other settings are spelled out.
func OutputName(base string, metric int, weighted bool) string {
	switch {
	case weighted:
		return fmt.Sprintf("Clusterings-%s-metric%d-weighted.csv", base, metric)
	case metric != 1:
		return fmt.Sprintf("Clusterings-%s-metric%d-unweighted.csv", base, metric)
	default:
		return fmt.Sprintf("Clusterings-%s.csv", base)
	}
}

// XLSXName swaps the extension of a CSV output name.
func XLSXName(csvName string) string {
	return strings.TrimSuffix(csvName, filepath.Ext(csvName)) + ".xlsx"
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
