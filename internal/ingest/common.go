package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported table format")
	ErrMissingColumn     = errors.New("column not found")
	ErrEmptyTable        = errors.New("table has no header row")
)

// Row is one data row of a table.
type Row struct {
	Line   int // 1-indexed line or sheet row, header included
	Values []string
}

// Table is a parsed input file: a header row plus data rows. Every row has
// exactly len(Header) values; short rows are padded with "".
type Table struct {
	Path   string
	Header []string
	Rows   []Row
}

// Column returns the index of the named header. An exact match wins over a
// case-insensitive one.
func (t *Table) Column(name string) (int, error) {
	name = strings.TrimSpace(name)
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%q in %s: %w", name, filepath.Base(t.Path), ErrMissingColumn)
}

// Reader handles a specific file format.
type Reader interface {
	// CanHandle returns true if this reader supports the given file path.
	CanHandle(path string) bool

	// Read parses the file into a Table.
	Read(ctx context.Context, path string) (*Table, error)
}

// DefaultReaders lists every built-in reader.
func DefaultReaders() []Reader {
	return []Reader{&CSVReader{}, &XLSXReader{}}
}

// Read picks the first default reader that handles path.
func Read(ctx context.Context, path string) (*Table, error) {
	return ReadWith(ctx, path, DefaultReaders())
}

// ReadWith picks the first reader in readers that handles path.
func ReadWith(ctx context.Context, path string, readers []Reader) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range readers {
		if r.CanHandle(path) {
			return r.Read(ctx, path)
		}
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
}

// newTable normalizes raw records (header first) into a Table.
func newTable(path string, records [][]string, lineOf func(i int) int) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyTable)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		// UTF-8 BOM on the first cell
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	t := &Table{Path: path, Header: header}
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		values := make([]string, len(header))
		for j := range values {
			if j < len(rec) {
				values[j] = strings.TrimSpace(rec[j])
			}
		}
		t.Rows = append(t.Rows, Row{Line: lineOf(i + 1), Values: values})
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
