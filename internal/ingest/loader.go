// Package ingest loads historical policy tables from CSV and XLSX files.
package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ppiankov/rolcurve/internal/model"
)

// Loader reads policies in one file format
type Loader interface {
	// Name returns the loader name
	Name() string

	// CanHandle checks if this loader reads the given file
	CanHandle(path string) bool

	// Load parses every data row of r
	Load(r io.Reader) (*Batch, error)
}

// RowError is a row that could not be turned into a policy
type RowError struct {
	Row   int    `json:"row"` // 1-based, header is row 1
	Field string `json:"field,omitempty"`
	Err   string `json:"error"`
}

func (e RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Err)
}

// Batch is the result of loading one file
type Batch struct {
	Source   string         `json:"source"`
	Policies []model.Policy `json:"policies"`
	Rejected []RowError     `json:"rejected,omitempty"`
}

// Registry picks a loader by file name
type Registry struct {
	loaders []Loader
}

// NewRegistry creates a registry with the built-in CSV and XLSX loaders
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewCSVLoader())
	r.Register(NewXLSXLoader(""))
	return r
}

// Register adds a loader; earlier loaders win
func (r *Registry) Register(l Loader) {
	r.loaders = append(r.loaders, l)
}

// Find returns the loader for path
func (r *Registry) Find(path string) (Loader, error) {
	for _, l := range r.loaders {
		if l.CanHandle(path) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no loader for %q", filepath.Base(path))
}

// LoadFile opens path and loads it with the matching loader
func (r *Registry) LoadFile(path string) (*Batch, error) {
	l, err := r.Find(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	b, err := l.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s loader: %w", l.Name(), err)
	}
	b.Source = path
	return b, nil
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Canonical column names
const (
	colID         = "id"
	colClient     = "client"
	colLOB        = "lob"
	colCountry    = "country"
	colAttachment = "attachment"
	colLimit      = "limit"
	colIndustry   = "industry"
	colSize       = "size"
	colPremium    = "premium"
	colExposure   = "exposure"
)

var headerAliases = map[string]string{
	"id": colID, "policy_id": colID, "policy": colID, "policy_number": colID,
	"client": colClient, "insurer": colClient, "carrier": colClient,
	"lob": colLOB, "line": colLOB, "line_of_business": colLOB,
	"country": colCountry, "country_code": colCountry, "iso2": colCountry, "domicile": colCountry,
	"attachment": colAttachment, "attachment_point": colAttachment, "excess": colAttachment, "retention": colAttachment,
	"limit": colLimit, "layer_limit": colLimit,
	"industry": colIndustry, "sector": colIndustry,
	"size": colSize, "revenue": colSize, "turnover": colSize,
	"premium": colPremium, "gross_premium": colPremium,
	"exposure": colExposure, "weight": colExposure,
}

var requiredColumns = []string{colID, colAttachment, colLimit, colPremium}

// columns maps canonical names to positions in a header row
type columns map[string]int

func parseHeader(header []string) (columns, error) {
	cols := make(columns)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		if canon, ok := headerAliases[key]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func (c columns) text(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseAmount accepts plain numbers with optional thousands separators and currency symbols
func parseAmount(s string) (float64, error) {
	clean := strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
	if clean == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(clean, 64)
}

// toPolicy converts one data row. Size and exposure are optional: a missing
// exposure defaults to the limit.
func (c columns) toPolicy(row int, record []string) (model.Policy, *RowError) {
	p := model.Policy{
		ID:       c.text(record, colID),
		Client:   c.text(record, colClient),
		LOB:      c.text(record, colLOB),
		Country:  c.text(record, colCountry),
		Industry: c.text(record, colIndustry),
	}
	if p.ID == "" {
		return p, &RowError{Row: row, Field: colID, Err: "empty value"}
	}

	numbers := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{colAttachment, &p.Attachment, false},
		{colLimit, &p.Limit, false},
		{colPremium, &p.Premium, false},
		{colSize, &p.Size, true},
		{colExposure, &p.Exposure, true},
	}
	for _, n := range numbers {
		raw := c.text(record, n.name)
		if raw == "" && n.optional {
			continue
		}
		v, err := parseAmount(raw)
		if err != nil {
			return p, &RowError{Row: row, Field: n.name, Err: err.Error()}
		}
		*n.dst = v
	}
	if p.Exposure == 0 {
		p.Exposure = p.Limit
	}
	// Without a size column every policy gets the same size, which the
	// regression drops as a zero-variance feature
	if _, ok := c[colSize]; !ok {
		p.Size = 1
	}
	return p, nil
}

// collect turns header + data rows into a Batch. Blank rows are skipped.
func collect(rows [][]string) (*Batch, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}
	cols, err := parseHeader(rows[0])
	if err != nil {
		return nil, err
	}
	b := &Batch{}
	for i, record := range rows[1:] {
		if blank(record) {
			continue
		}
		p, rowErr := cols.toPolicy(i+2, record)
		if rowErr != nil {
			b.Rejected = append(b.Rejected, *rowErr)
			continue
		}
		b.Policies = append(b.Policies, p)
	}
	return b, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
