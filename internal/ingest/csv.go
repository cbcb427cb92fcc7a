package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVLoader reads comma-separated policy tables with a header row
type CSVLoader struct{}

// NewCSVLoader creates a CSV loader
func NewCSVLoader() *CSVLoader { return &CSVLoader{} }

// Name returns the loader name
func (l *CSVLoader) Name() string { return "csv" }

// CanHandle matches .csv files
func (l *CSVLoader) CanHandle(path string) bool { return hasExt(path, ".csv") }

// Load parses every data row of r
func (l *CSVLoader) Load(r io.Reader) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return collect(rows)
}
