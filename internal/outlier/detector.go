// Package outlier flags policies whose premium is far from the fitted curve.
package outlier

import (
	"math"
	"sort"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

// DefaultThreshold is the |z| above which a premium is flagged
const DefaultThreshold = 2.5

// Row is one re-scored policy
type Row struct {
	PolicyID  string  `json:"policy_id"`
	Segment   int     `json:"segment"` // Segment containing the layer midpoint
	Observed  float64 `json:"observed"`
	Predicted float64 `json:"predicted"`
	Residual  float64 `json:"residual"` // Observed - predicted premium
	Sigma     float64 `json:"sigma"`    // Rate std used to standardize
	Pooled    bool    `json:"pooled"`   // Sigma fell back to the pooled std
	Z         float64 `json:"z"`
	Flagged   bool    `json:"flagged"`
}

// Detector scores policies against one curve
type Detector struct {
	pricer    *pricing.Pricer
	base      model.ExposureBase
	threshold float64
}

// NewDetector creates a detector. A non-positive threshold selects DefaultThreshold.
func NewDetector(p *pricing.Pricer, base model.ExposureBase, threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if base == "" {
		base = model.BaseLimit
	}
	return &Detector{pricer: p, base: base, threshold: threshold}
}

// Score re-prices every policy and returns all rows ranked by |z|
func (d *Detector) Score(policies []model.Policy) ([]Row, error) {
	c := d.pricer.Curve()
	diag := c.Diagnostics

	rows := make([]Row, 0, len(policies))
	for _, p := range policies {
		q, err := d.pricer.PricePolicy(p)
		if err != nil {
			return nil, err
		}

		seg := c.Locate(p.Mid())
		sigma, pooled := diag.PooledStd, true
		if seg < len(diag.Segments) {
			if s := diag.Segments[seg]; !s.Imputed && s.ResidualStd > 0 {
				sigma, pooled = s.ResidualStd, false
			}
		}

		row := Row{
			PolicyID:  p.ID,
			Segment:   seg,
			Observed:  p.Premium,
			Predicted: q.Premium,
			Residual:  p.Premium - q.Premium,
			Sigma:     sigma,
			Pooled:    pooled,
		}
		// A zero sigma means every fitted residual was zero; nothing stands out
		if sigma > 0 {
			row.Z = row.Residual / (sigma * p.Base(d.base))
		}
		row.Flagged = math.Abs(row.Z) > d.threshold
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		zi, zj := math.Abs(rows[i].Z), math.Abs(rows[j].Z)
		if zi != zj {
			return zi > zj
		}
		ri, rj := math.Abs(rows[i].Residual), math.Abs(rows[j].Residual)
		if ri != rj {
			return ri > rj
		}
		return rows[i].PolicyID < rows[j].PolicyID
	})
	return rows, nil
}

// Detect returns only the flagged rows, ranked
func (d *Detector) Detect(policies []model.Policy) ([]Row, error) {
	rows, err := d.Score(policies)
	if err != nil {
		return nil, err
	}
	flagged := rows[:0]
	for _, r := range rows {
		if r.Flagged {
			flagged = append(flagged, r)
		}
	}
	return flagged, nil
}
