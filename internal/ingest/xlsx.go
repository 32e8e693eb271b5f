package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXReader handles .xlsx workbooks. Only the first sheet is read.
type XLSXReader struct{}

// CanHandle returns true for XLSX file extensions.
func (x *XLSXReader) CanHandle(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".xlsx"
}

// Read parses the first sheet of a workbook. The first row is the header.
func (x *XLSXReader) Read(ctx context.Context, path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrEmptyTable)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q of %s: %w", sheets[0], path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return newTable(path, rows, func(i int) int { return i + 1 })
}
