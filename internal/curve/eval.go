package curve

import (
	"fmt"
	"math"
)

// Point is the curve value at one exposure
type Point struct {
	X       float64 `json:"x"`
	Rate    float64 `json:"rate"`
	Band    float64 `json:"band"`
	Imputed bool    `json:"imputed"`
}

// startRate is the rate at the left edge of segment i under the interpolation rule
func (c *RolCurve) startRate(i int) float64 {
	if c.Interpolation == InterpStep {
		return c.Segments[i].Rate()
	}
	return c.Segments[i].LeftRate
}

// endRate is the rate at the right edge of segment i under the interpolation rule
func (c *RolCurve) endRate(i int) float64 {
	if c.Interpolation == InterpStep {
		return c.Segments[i].Rate()
	}
	return c.Segments[i].RightRate
}

// inside evaluates segment i at x, x within its bounds
func (c *RolCurve) inside(i int, x float64) float64 {
	s := c.Segments[i]
	if c.Interpolation == InterpStep {
		return s.Rate()
	}
	u := c.grid.Position(i, x)
	return s.LeftRate + (s.RightRate-s.LeftRate)*u
}

// tailSlope is the log-slope used beyond s_k, clamped so the tail never rises
func (c *RolCurve) tailSlope() float64 {
	if c.Extrapolation != ExtrapLogLinear {
		return 0
	}
	last := c.Segments[len(c.Segments)-1]
	if last.LeftRate <= 0 || last.RightRate <= 0 {
		return 0
	}
	g := math.Log(last.RightRate/last.LeftRate) / last.Width()
	return math.Min(g, 0)
}

// RateAt evaluates the curve at exposure x. The flag reports extrapolation.
func (c *RolCurve) RateAt(x float64) (float64, bool) {
	switch {
	case x < c.grid.Min():
		return c.startRate(0), true
	case x >= c.grid.Max():
		end := c.endRate(len(c.Segments) - 1)
		return end * math.Exp(c.tailSlope()*(x-c.grid.Max())), x > c.grid.Max()
	}
	i := c.grid.Locate(x)
	return c.inside(i, x), false
}

// integral returns the integral of the rate over [lo, hi), hi > lo
func (c *RolCurve) integral(lo, hi float64) float64 {
	cov := c.grid.Overlaps(lo, hi)
	total := cov.Below * c.startRate(0)
	for _, o := range cov.Inside {
		// Linear within a segment, so the average is the value at the midpoint
		total += o.Width() * c.inside(o.Segment, (o.Lo+o.Hi)/2)
	}
	if cov.Above > 0 {
		end := c.endRate(len(c.Segments) - 1)
		a0 := math.Max(lo, c.grid.Max()) - c.grid.Max()
		a1 := hi - c.grid.Max()
		if g := c.tailSlope(); g < 0 {
			total += end * (math.Exp(g*a1) - math.Exp(g*a0)) / g
		} else {
			total += end * (a1 - a0)
		}
	}
	return total
}

// AverageRate returns the exact average of the curve over [lo, hi) and whether
// any part of it was extrapolated
func (c *RolCurve) AverageRate(lo, hi float64) (float64, bool, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return 0, false, fmt.Errorf("layer bounds must be finite")
	}
	if hi <= lo {
		return 0, false, fmt.Errorf("layer end %v must exceed start %v", hi, lo)
	}
	extrapolated := lo < c.grid.Min() || hi > c.grid.Max()
	return math.Max(0, c.integral(lo, hi)/(hi-lo)), extrapolated, nil
}

// Points returns the curve at each split point. Interior points report the
// rate of the segment that starts there.
func (c *RolCurve) Points() []Point {
	pts := make([]Point, len(c.Splits))
	for j, x := range c.Splits {
		seg := j
		if seg >= len(c.Segments) {
			seg = len(c.Segments) - 1
		}
		rate, _ := c.RateAt(x)
		pts[j] = Point{X: x, Rate: rate, Band: c.Segments[seg].Band, Imputed: c.Segments[seg].Imputed}
	}
	return pts
}

// Sample evaluates the curve at n evenly spaced exposures across the grid
func (c *RolCurve) Sample(n int) []Point {
	if n < 2 {
		n = 2
	}
	lo, hi := c.grid.Min(), c.grid.Max()
	pts := make([]Point, n)
	for j := range pts {
		x := lo + (hi-lo)*float64(j)/float64(n-1)
		seg := c.grid.Locate(x)
		rate, _ := c.RateAt(x)
		pts[j] = Point{X: x, Rate: rate, Band: c.Segments[seg].Band, Imputed: c.Segments[seg].Imputed}
	}
	return pts
}
