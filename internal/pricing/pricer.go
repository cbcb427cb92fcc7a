// Package pricing predicts rates and premiums for policy layers from a fitted curve.
package pricing

import (
	"fmt"
	"math"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Contribution is the share of a layer priced off one segment
type Contribution struct {
	Segment int     `json:"segment"`
	Weight  float64 `json:"weight"` // Overlap length / layer length
}

// Quote is a priced layer
type Quote struct {
	Rate         float64        `json:"rate"`
	BaseRate     float64        `json:"base_rate"`  // Curve average over the layer
	Adjustment   float64        `json:"adjustment"` // Size and industry adjustment
	Band         float64        `json:"band"`
	Premium      float64        `json:"premium"`
	Extrapolated bool           `json:"extrapolated"`
	Segments     []Contribution `json:"segments"`
}

// Pricer prices layers against one curve
type Pricer struct {
	curve *curve.RolCurve
	base  model.ExposureBase
}

// New creates a pricer. base selects the premium denominator used by PricePolicy.
func New(c *curve.RolCurve, base model.ExposureBase) *Pricer {
	if base == "" {
		base = model.ExposureBase(c.ExposureBase)
	}
	return &Pricer{curve: c, base: base}
}

// Curve returns the curve the pricer quotes from
func (p *Pricer) Curve() *curve.RolCurve { return p.curve }

// Predict quotes the layer [left, right) for a policy with the given industry and size.
// The premium is quoted on the layer limit.
func (p *Pricer) Predict(left, right float64, industry string, size float64) (Quote, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return Quote{}, fmt.Errorf("size must be finite, got %v", size)
	}
	baseRate, extrapolated, err := p.curve.AverageRate(left, right)
	if err != nil {
		return Quote{}, err
	}

	width := right - left
	cov := p.curve.Grid().Overlaps(left, right)
	weights := make(map[int]float64, len(cov.Inside)+2)
	for _, o := range cov.Inside {
		weights[o.Segment] += o.Width() / width
	}
	// Out-of-grid parts borrow the adjustments of the nearest segment
	if cov.Below > 0 {
		weights[0] += cov.Below / width
	}
	if cov.Above > 0 {
		weights[len(p.curve.Segments)-1] += cov.Above / width
	}

	q := Quote{BaseRate: baseRate, Extrapolated: extrapolated}
	for i := range p.curve.Segments {
		w, ok := weights[i]
		if !ok {
			continue
		}
		q.Adjustment += w * p.curve.Adjustment(i, industry, size)
		q.Band += w * p.curve.Segments[i].Band
		q.Segments = append(q.Segments, Contribution{Segment: i, Weight: w})
	}

	q.Rate = math.Max(0, baseRate+q.Adjustment)
	q.Premium = q.Rate * width
	return q, nil
}

// PricePolicy quotes a policy's layer and its premium on the configured exposure base
func (p *Pricer) PricePolicy(pol model.Policy) (Quote, error) {
	q, err := p.Predict(pol.Left(), pol.Right(), pol.Industry, pol.Size)
	if err != nil {
		return Quote{}, fmt.Errorf("policy %s: %w", pol.ID, err)
	}
	q.Premium = q.Rate * pol.Base(p.base)
	return q, nil
}
