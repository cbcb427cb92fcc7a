// Package curve holds a fitted Rate-on-Line curve and evaluates it at arbitrary exposures.
package curve

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ppiankov/rolcurve/internal/grid"
)

// Interpolation selects how the rate varies inside a segment
type Interpolation string

const (
	InterpLinear Interpolation = "linear" // Straight line from left-edge to right-edge rate
	InterpStep   Interpolation = "step"   // Constant segment rate
)

// ParseInterpolation converts a config string into an Interpolation
func ParseInterpolation(s string) (Interpolation, error) {
	switch Interpolation(strings.ToLower(strings.TrimSpace(s))) {
	case InterpLinear, "":
		return InterpLinear, nil
	case InterpStep, "piecewise_constant":
		return InterpStep, nil
	}
	return "", fmt.Errorf("unknown interpolation rule %q", s)
}

// Extrapolation selects the rate beyond the last split point
type Extrapolation string

const (
	ExtrapHoldLast  Extrapolation = "hold_last"  // Keep the last rate
	ExtrapLogLinear Extrapolation = "log_linear" // Continue the last segment's log-slope, never increasing
)

// ParseExtrapolation converts a config string into an Extrapolation
func ParseExtrapolation(s string) (Extrapolation, error) {
	switch Extrapolation(strings.ToLower(strings.TrimSpace(s))) {
	case ExtrapHoldLast, "", "hold":
		return ExtrapHoldLast, nil
	case ExtrapLogLinear, "log-linear":
		return ExtrapLogLinear, nil
	}
	return "", fmt.Errorf("unknown extrapolation rule %q", s)
}

// Segment is the fitted (or imputed) rate over [Lo, Hi)
type Segment struct {
	Lo        float64 `json:"lo"`
	Hi        float64 `json:"hi"`
	LeftRate  float64 `json:"left_rate"`
	RightRate float64 `json:"right_rate"`
	Band      float64 `json:"band"` // Half-width of the uncertainty band on the segment rate
	Imputed   bool    `json:"imputed"`

	// Covariate adjustments, zero for imputed segments
	SizeCoef        float64            `json:"size_coef,omitempty"`
	SizeCenter      float64            `json:"size_center,omitempty"`
	IndustryEffects map[string]float64 `json:"industry_effects,omitempty"`
}

// Rate returns the mean rate over the segment
func (s Segment) Rate() float64 {
	return (s.LeftRate + s.RightRate) / 2
}

// Width returns Hi - Lo
func (s Segment) Width() float64 { return s.Hi - s.Lo }

// RolCurve is a fitted curve for one (client, LOB). It is immutable once returned:
// refitting produces a new value.
type RolCurve struct {
	Client        string         `json:"client"`
	LOB           string         `json:"lob"`
	FittedAt      time.Time      `json:"fitted_at"`
	Splits        []float64      `json:"splits"`
	Segments      []Segment      `json:"segments"`
	Interpolation Interpolation  `json:"interpolation"`
	Extrapolation Extrapolation  `json:"extrapolation"`
	ExposureBase  string         `json:"exposure_base"`
	Diagnostics   FitDiagnostics `json:"diagnostics"`

	grid *grid.Grid
}

// New assembles a curve over g and checks its invariants
func New(g *grid.Grid, segments []Segment, interp Interpolation, extrap Extrapolation, diag FitDiagnostics) (*RolCurve, error) {
	c := &RolCurve{
		Splits:        g.Points(),
		Segments:      segments,
		Interpolation: interp,
		Extrapolation: extrap,
		ExposureBase:  "limit",
		Diagnostics:   diag,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the curve invariants and rebuilds the grid. Curves loaded
// from a cache or store must pass it before use.
func (c *RolCurve) Validate() error {
	g, err := grid.New(c.Splits)
	if err != nil {
		return err
	}
	if len(c.Segments) != g.Segments() {
		return fmt.Errorf("curve has %d segments for %d split points", len(c.Segments), len(c.Splits))
	}
	for i, s := range c.Segments {
		lo, hi := g.Bounds(i)
		if s.Lo != lo || s.Hi != hi {
			return fmt.Errorf("segment %d spans [%v, %v), grid says [%v, %v)", i, s.Lo, s.Hi, lo, hi)
		}
		for _, r := range []float64{s.LeftRate, s.RightRate, s.Band} {
			if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
				return fmt.Errorf("segment %d has invalid rate or band %v", i, r)
			}
		}
	}
	if _, err := ParseInterpolation(string(c.Interpolation)); err != nil {
		return err
	}
	if _, err := ParseExtrapolation(string(c.Extrapolation)); err != nil {
		return err
	}
	c.grid = g
	return nil
}

// UnmarshalJSON decodes a curve and validates it
func (c *RolCurve) UnmarshalJSON(data []byte) error {
	type plain RolCurve
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = RolCurve(p)
	return c.Validate()
}

// Grid returns the exposure grid the curve is defined over
func (c *RolCurve) Grid() *grid.Grid { return c.grid }

// Locate returns the segment containing x, clamped to the grid
func (c *RolCurve) Locate(x float64) int { return c.grid.Locate(x) }

// SegmentRate returns the mean rate of segment i
func (c *RolCurve) SegmentRate(i int) float64 { return c.Segments[i].Rate() }

// Adjustment returns the covariate adjustment of segment i for a policy.
// Unknown industries and non-positive sizes contribute nothing.
func (c *RolCurve) Adjustment(i int, industry string, size float64) float64 {
	s := c.Segments[i]
	adj := s.IndustryEffects[industry]
	if size > 0 && s.SizeCoef != 0 {
		adj += s.SizeCoef * (math.Log(size) - s.SizeCenter)
	}
	return adj
}
