// Package compare lines up curves fitted on sub-portfolios of one LOB.
package compare

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/ingest"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Row is every curve evaluated at one exposure point
type Row struct {
	X      float64            `json:"x"`
	Rates  map[string]float64 `json:"rates"`
	Spread float64            `json:"spread"` // Max minus min rate
	Low    string             `json:"low"`    // Label of the cheapest curve
	High   string             `json:"high"`   // Label of the dearest curve
}

// Comparison is a set of curves aligned on shared points
type Comparison struct {
	Labels []string `json:"labels"`
	Rows   []Row    `json:"rows"`
}

// MaxSpread returns the row with the widest spread
func (c *Comparison) MaxSpread() (Row, bool) {
	if len(c.Rows) == 0 {
		return Row{}, false
	}
	best := c.Rows[0]
	for _, r := range c.Rows[1:] {
		if r.Spread > best.Spread {
			best = r
		}
	}
	return best, true
}

// SharedPoints returns the union of every curve's split points
func SharedPoints(curves map[string]*curve.RolCurve) []float64 {
	seen := make(map[float64]bool)
	var pts []float64
	for _, c := range curves {
		for _, x := range c.Splits {
			if !seen[x] {
				seen[x] = true
				pts = append(pts, x)
			}
		}
	}
	sort.Float64s(pts)
	return pts
}

// Compare evaluates labelled curves at points (their shared split points when nil)
func Compare(curves map[string]*curve.RolCurve, points []float64) (*Comparison, error) {
	if len(curves) < 2 {
		return nil, fmt.Errorf("compare needs at least 2 curves, got %d", len(curves))
	}
	if points == nil {
		points = SharedPoints(curves)
	}
	if len(points) == 0 {
		return nil, errors.New("no points to compare at")
	}

	labels := make([]string, 0, len(curves))
	for l := range curves {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	cmp := &Comparison{Labels: labels, Rows: make([]Row, 0, len(points))}
	for _, x := range points {
		row := Row{X: x, Rates: make(map[string]float64, len(labels))}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, l := range labels {
			r, _ := curves[l].RateAt(x)
			row.Rates[l] = r
			// Labels are sorted so ties keep the first label
			if r < lo {
				lo, row.Low = r, l
			}
			if r > hi {
				hi, row.High = r, l
			}
		}
		row.Spread = hi - lo
		cmp.Rows = append(cmp.Rows, row)
	}
	return cmp, nil
}

// SplitBySize groups policies into the binner's size bands. Policies outside
// every band are returned separately.
func SplitBySize(policies []model.Policy, b *ingest.Binner) (map[string][]model.Policy, []model.Policy) {
	return SplitBy(policies, func(p model.Policy) (string, bool) {
		return b.Label(p.Size)
	})
}

// SplitByIndustry groups policies by industry
func SplitByIndustry(policies []model.Policy) map[string][]model.Policy {
	groups, _ := SplitBy(policies, func(p model.Policy) (string, bool) {
		return p.Industry, p.Industry != ""
	})
	return groups
}

// SplitBy groups policies by a label function
func SplitBy(policies []model.Policy, label func(model.Policy) (string, bool)) (map[string][]model.Policy, []model.Policy) {
	groups := make(map[string][]model.Policy)
	var rest []model.Policy
	for _, p := range policies {
		l, ok := label(p)
		if !ok {
			rest = append(rest, p)
			continue
		}
		groups[l] = append(groups[l], p)
	}
	return groups, rest
}
