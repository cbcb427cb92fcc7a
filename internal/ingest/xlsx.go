package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXLoader reads policy tables from an Excel workbook
type XLSXLoader struct {
	sheet string // Preferred sheet; empty picks the first sheet with a policy header
}

// NewXLSXLoader creates an XLSX loader
func NewXLSXLoader(sheet string) *XLSXLoader { return &XLSXLoader{sheet: sheet} }

// Name returns the loader name
func (l *XLSXLoader) Name() string { return "xlsx" }

// CanHandle matches .xlsx and .xlsm files
func (l *XLSXLoader) CanHandle(path string) bool { return hasExt(path, ".xlsx", ".xlsm") }

// Load parses the policy sheet of the workbook in r
func (l *XLSXLoader) Load(r io.Reader) (*Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if l.sheet != "" {
		rows, err := f.GetRows(l.sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", l.sheet, err)
		}
		return collect(rows)
	}

	// Otherwise look for the first sheet whose header names the policy columns
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil || len(rows) == 0 {
			continue
		}
		if _, err := parseHeader(rows[0]); err == nil {
			return collect(rows)
		}
	}
	return nil, fmt.Errorf("no sheet with a policy header (%s)", strings.Join(requiredColumns, ", "))
}
