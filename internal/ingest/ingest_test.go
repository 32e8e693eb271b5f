package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hurttlocker/tagclust/internal/overlap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func writeWorkbook(t *testing.T, name string, rows [][]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestCSVReaderCanHandle(t *testing.T) {
	r := &CSVReader{}
	tests := []struct {
		path string
		want bool
	}{
		{"data.csv", true},
		{"data.CSV", true},
		{"data.tsv", true},
		{"data.xlsx", false},
		{"data.json", false},
	}
	for _, tc := range tests {
		if got := r.CanHandle(tc.path); got != tc.want {
			t.Errorf("CanHandle(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestCSVReaderPadsAndSkipsBlankRows(t *testing.T) {
	path := writeFile(t, "a.csv", "\ufeffID, Class ,Extra\n1,sky\n\n2,sea,x\n")
	tbl, err := (&CSVReader{}).Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(tbl.Header, []string{"ID", "Class", "Extra"}) {
		t.Fatalf("header = %q", tbl.Header)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if !reflect.DeepEqual(tbl.Rows[0].Values, []string{"1", "sky", ""}) {
		t.Errorf("row 0 = %q", tbl.Rows[0].Values)
	}
	if tbl.Rows[0].Line != 2 || tbl.Rows[1].Line != 4 {
		t.Errorf("lines = %d, %d; want 2, 4", tbl.Rows[0].Line, tbl.Rows[1].Line)
	}
}

func TestCSVReaderTSV(t *testing.T) {
	path := writeFile(t, "a.tsv", "ID\tClass\n1\tsky, blue\n")
	tbl, err := Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := tbl.Rows[0].Values[1]; got != "sky, blue" {
		t.Fatalf("tag = %q", got)
	}
}

func TestReadUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "a.json", "{}")
	if _, err := Read(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestReadEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	if _, err := Read(context.Background(), path); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}

func TestReadCancelled(t *testing.T) {
	path := writeFile(t, "a.csv", "ID,Class\n1,sky\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Read(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestColumnLookup(t *testing.T) {
	tbl := &Table{Path: "x.csv", Header: []string{"id", "Class", "CLASS"}}
	if i, err := tbl.Column("Class"); err != nil || i != 1 {
		t.Fatalf("exact match: %d, %v", i, err)
	}
	if i, err := tbl.Column("ID"); err != nil || i != 0 {
		t.Fatalf("case-insensitive match: %d, %v", i, err)
	}
	if _, err := tbl.Column("Post"); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestLoadAssociations(t *testing.T) {
	path := writeFile(t, "assoc.csv", "ID,Class,Score\np1,sky,0.9\np1,sea,0.7\np2,sky,0.8\n")
	got, err := LoadAssociations(context.Background(), path, Columns{})
	if err != nil {
		t.Fatalf("LoadAssociations: %v", err)
	}
	want := []overlap.Association{
		{PostID: "p1", Tag: "sky"},
		{PostID: "p1", Tag: "sea"},
		{PostID: "p2", Tag: "sky"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadAssociationsCustomColumns(t *testing.T) {
	path := writeFile(t, "assoc.csv", "post,label\n7,boat\n")
	got, err := LoadAssociations(context.Background(), path, Columns{Post: "post", Tag: "label"})
	if err != nil {
		t.Fatalf("LoadAssociations: %v", err)
	}
	if len(got) != 1 || got[0].PostID != "7" || got[0].Tag != "boat" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadAssociationsMissingValue(t *testing.T) {
	path := writeFile(t, "assoc.csv", "ID,Class\np1,sky\n,sea\n")
	_, err := LoadAssociations(context.Background(), path, Columns{})
	if !errors.Is(err, overlap.ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if want := "assoc.csv line 3"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should name %q", err, want)
	}
}

func TestLoadAssociationsMissingColumn(t *testing.T) {
	path := writeFile(t, "assoc.csv", "Post,Class\np1,sky\n")
	if _, err := LoadAssociations(context.Background(), path, Columns{}); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestLoadClassificationsXLSX(t *testing.T) {
	path := writeWorkbook(t, "classes.xlsx", [][]interface{}{
		{"Class", "Classification", "p"},
		{"sky", "greater", 0.01},
		{"sea", "", nil},
		{"boat", "less", 0.03},
	})
	got, err := LoadClassifications(context.Background(), path, Columns{})
	if err != nil {
		t.Fatalf("LoadClassifications: %v", err)
	}
	want := []overlap.ClassificationRow{
		{Tag: "sky", Classification: "greater"},
		{Tag: "sea", Classification: ""},
		{Tag: "boat", Classification: "less"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadClassificationsMissingTag(t *testing.T) {
	path := writeFile(t, "classes.csv", "Class,Classification\n,greater\n")
	if _, err := LoadClassifications(context.Background(), path, Columns{}); !errors.Is(err, overlap.ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
}

func TestXLSXReaderLines(t *testing.T) {
	path := writeWorkbook(t, "assoc.xlsx", [][]interface{}{
		{"ID", "Class"},
		{1, "sky"},
		{2, "sea"},
	})
	tbl, err := (&XLSXReader{}).Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[1].Line != 3 || tbl.Rows[1].Values[0] != "2" {
		t.Fatalf("rows = %+v", tbl.Rows)
	}
}
