// Package grid holds the fixed exposure split points a ROL curve is bootstrapped over.
package grid

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/rolcurve/internal/model"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Spacing selects how generated split points are distributed
type Spacing string

const (
	SpacingUniform    Spacing = "uniform"
	SpacingLogUniform Spacing = "log_uniform"
	SpacingQuantile   Spacing = "quantile"
)

// ParseSpacing converts a config string into a Spacing
func ParseSpacing(s string) (Spacing, error) {
	switch Spacing(strings.ToLower(strings.TrimSpace(s))) {
	case SpacingUniform, "":
		return SpacingUniform, nil
	case SpacingLogUniform, "log-uniform", "log":
		return SpacingLogUniform, nil
	case SpacingQuantile:
		return SpacingQuantile, nil
	}
	return "", &model.InvalidGridError{Reason: fmt.Sprintf("unknown spacing rule %q", s)}
}

// Grid is an ordered, strictly increasing set of split points s_0 < ... < s_k.
// Segment i is [s_i, s_{i+1}). A Grid is read-only once built.
type Grid struct {
	points []float64
}

// New validates explicit split points, e.g. a LOB grid taken from config
func New(points []float64) (*Grid, error) {
	if len(points) < 2 {
		return nil, &model.InvalidGridError{Reason: fmt.Sprintf("need at least 2 split points, got %d", len(points))}
	}
	for i, p := range points {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, &model.InvalidGridError{Reason: fmt.Sprintf("split point %d is not finite", i)}
		}
		if i > 0 && p <= points[i-1] {
			return nil, &model.InvalidGridError{Reason: fmt.Sprintf("split points not strictly increasing at %d (%v <= %v)", i, p, points[i-1])}
		}
	}
	cp := make([]float64, len(points))
	copy(cp, points)
	return &Grid{points: cp}, nil
}

// Build generates n split points spanning [min, max].
// observed is only consulted for quantile spacing.
func Build(min, max float64, n int, spacing Spacing, observed []float64) (*Grid, error) {
	if n < 2 {
		return nil, &model.InvalidGridError{Reason: fmt.Sprintf("n_points must be >= 2, got %d", n)}
	}
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil, &model.InvalidGridError{Reason: "range bounds must be finite"}
	}
	if min >= max {
		return nil, &model.InvalidGridError{Reason: fmt.Sprintf("degenerate range [%v, %v]", min, max)}
	}

	points := make([]float64, n)
	switch spacing {
	case SpacingUniform:
		floats.Span(points, min, max)
	case SpacingLogUniform:
		if min <= 0 {
			return nil, &model.InvalidGridError{Reason: fmt.Sprintf("log_uniform spacing needs min > 0, got %v", min)}
		}
		floats.LogSpan(points, min, max)
	case SpacingQuantile:
		qs, err := quantilePoints(min, max, n, observed)
		if err != nil {
			return nil, err
		}
		points = qs
	default:
		return nil, &model.InvalidGridError{Reason: fmt.Sprintf("unknown spacing rule %q", spacing)}
	}

	// Pin the ends exactly; span arithmetic can drift by an ulp
	points[0], points[n-1] = min, max

	points = dedup(points)
	if len(points) != n {
		return nil, &model.InvalidGridError{Reason: fmt.Sprintf("%s spacing produced %d distinct points, want %d", spacing, len(points), n)}
	}
	return New(points)
}

// quantilePoints places interior split points at empirical quantiles of the
// observed exposures that fall inside [min, max]
func quantilePoints(min, max float64, n int, observed []float64) ([]float64, error) {
	inside := make([]float64, 0, len(observed))
	for _, v := range observed {
		if v >= min && v <= max && !math.IsNaN(v) {
			inside = append(inside, v)
		}
	}
	if len(inside) == 0 {
		return nil, &model.InvalidGridError{Reason: "quantile spacing needs observed exposures inside the range"}
	}
	sort.Float64s(inside)

	points := make([]float64, n)
	for i := range points {
		p := float64(i) / float64(n-1)
		points[i] = stat.Quantile(p, stat.LinInterp, inside, nil)
	}
	return points, nil
}

func dedup(points []float64) []float64 {
	out := points[:0:0]
	for i, p := range points {
		if i > 0 && p <= out[len(out)-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FromConfig builds a LOB grid from config. observed feeds quantile spacing.
func FromConfig(cfg model.GridConfig, observed []float64) (*Grid, error) {
	if len(cfg.Points) > 0 {
		return New(cfg.Points)
	}
	spacing, err := ParseSpacing(cfg.Spacing)
	if err != nil {
		return nil, err
	}
	return Build(cfg.Min, cfg.Max, cfg.Count, spacing, observed)
}

// Points returns a copy of the split points
func (g *Grid) Points() []float64 {
	cp := make([]float64, len(g.points))
	copy(cp, g.points)
	return cp
}

// Segments returns the number of segments (len(points) - 1)
func (g *Grid) Segments() int { return len(g.points) - 1 }

// Min returns s_0
func (g *Grid) Min() float64 { return g.points[0] }

// Max returns s_k
func (g *Grid) Max() float64 { return g.points[len(g.points)-1] }

// Bounds returns the edges of segment i
func (g *Grid) Bounds(i int) (float64, float64) {
	return g.points[i], g.points[i+1]
}

// Locate returns the segment containing x, clamped to the first/last segment
func (g *Grid) Locate(x float64) int {
	// first split point strictly greater than x
	idx := sort.Search(len(g.points), func(i int) bool { return g.points[i] > x })
	seg := idx - 1
	if seg < 0 {
		return 0
	}
	if seg >= g.Segments() {
		return g.Segments() - 1
	}
	return seg
}

// Position maps x to its relative position [0, 1] inside segment i
func (g *Grid) Position(i int, x float64) float64 {
	lo, hi := g.Bounds(i)
	u := (x - lo) / (hi - lo)
	return math.Max(0, math.Min(1, u))
}

// Overlap is the part of a layer that falls inside one segment
type Overlap struct {
	Segment int
	Lo, Hi  float64
}

// Width returns the overlap length
func (o Overlap) Width() float64 { return o.Hi - o.Lo }

// Coverage describes how a layer [lo, hi) lies on the grid
type Coverage struct {
	Inside []Overlap
	Below  float64 // Length of the layer below s_0
	Above  float64 // Length of the layer above s_k
}

// Extrapolated reports whether any part of the layer falls outside the grid
func (c Coverage) Extrapolated() bool { return c.Below > 0 || c.Above > 0 }

// Overlaps splits the layer [lo, hi) across the segments it spans
func (g *Grid) Overlaps(lo, hi float64) Coverage {
	var cov Coverage
	if hi <= lo {
		return cov
	}
	if lo < g.Min() {
		cov.Below = math.Min(hi, g.Min()) - lo
	}
	if hi > g.Max() {
		cov.Above = hi - math.Max(lo, g.Max())
	}
	for i := 0; i < g.Segments(); i++ {
		s0, s1 := g.Bounds(i)
		a, b := math.Max(lo, s0), math.Min(hi, s1)
		if b > a {
			cov.Inside = append(cov.Inside, Overlap{Segment: i, Lo: a, Hi: b})
		}
	}
	return cov
}
