// Package selection estimates how complex a client's pricing model is by
// cross-validating curves over grids derived from the LOB grid and a sweep of
// anchor strengths.
package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/estimate"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

// Config controls one sweep. Base is the LOB grid every candidate grid is
// derived from, so curves of different clients stay comparable.
type Config struct {
	Base              *grid.Grid
	Folds             int
	GridCounts        []int
	AnchorStrengths   []float64
	Spacing           grid.Spacing // uniform or log_uniform across the LOB range
	ComplexityPenalty float64
	TieTolerance      float64 // Relative criterion difference treated as a tie
	Seed              uint64
	Fit               estimate.Config
}

// ConfigFrom combines the selection and fit configuration
func ConfigFrom(sc model.SelectionConfig, fit estimate.Config) (Config, error) {
	spacing, err := grid.ParseSpacing(sc.Spacing)
	if err != nil {
		return Config{}, err
	}
	if spacing == grid.SpacingQuantile {
		return Config{}, &model.InvalidGridError{Reason: "selection spacing must be uniform or log_uniform, quantile grids would follow one client's layers"}
	}
	if len(sc.GridCounts) == 0 || len(sc.AnchorStrengths) == 0 {
		return Config{}, errors.New("selection needs at least one grid count and anchor strength")
	}
	return Config{
		Folds:             sc.Folds,
		GridCounts:        sc.GridCounts,
		AnchorStrengths:   sc.AnchorStrengths,
		Spacing:           spacing,
		ComplexityPenalty: sc.ComplexityPenalty,
		TieTolerance:      sc.TieTolerance,
		Seed:              sc.Seed,
		Fit:               fit,
	}, nil
}

// GridKind says how a candidate grid relates to the LOB grid
type GridKind string

const (
	GridLOB     GridKind = "lob"     // the configured LOB grid
	GridRefined GridKind = "refined" // LOB points plus every segment midpoint
	GridSpaced  GridKind = "spaced"  // GridPoints spread over the LOB range
)

// Candidate is one point of the sweep
type Candidate struct {
	Grid           GridKind `json:"grid"`
	GridPoints     int      `json:"grid_points"`
	AnchorStrength float64  `json:"anchor_strength"`
}

// Segments returns the number of segments the candidate fits
func (c Candidate) Segments() int { return c.GridPoints - 1 }

// CandidateScore is the cross-validated result for one candidate
type CandidateScore struct {
	Candidate
	Points       []float64 `json:"points"`
	MSE          float64 `json:"mse"`
	CVError      float64 `json:"cv_error"` // sqrt(MSE), exposure-weighted rate RMSE
	Criterion    float64 `json:"criterion"`
	Disqualified bool    `json:"disqualified"`
	Reason       string  `json:"reason,omitempty"`
}

// Result is the outcome of a sweep
type Result struct {
	Chosen     CandidateScore   `json:"chosen"`
	Candidates []CandidateScore `json:"candidates"`
	Policies   int              `json:"policies"`
	Folds      int              `json:"folds"`
	LowerBound float64          `json:"lower_bound"`     // Irreducible error, 0 when unknown
	Gap        float64          `json:"gap"`             // CVError - LowerBound
	Ratio      float64          `json:"ratio,omitempty"` // CVError / LowerBound
}

// Complexity summarizes the choice for curve diagnostics
func (r *Result) Complexity() *curve.Complexity {
	return &curve.Complexity{
		Grid:           string(r.Chosen.Grid),
		GridPoints:     r.Chosen.GridPoints,
		AnchorStrength: r.Chosen.AnchorStrength,
		CVError:        r.Chosen.CVError,
		Criterion:      r.Chosen.Criterion,
	}
}

// Grid returns the split points of the chosen candidate
func (r *Result) Grid() (*grid.Grid, error) {
	return grid.New(r.Chosen.Points)
}

// Selector runs complexity sweeps
type Selector struct {
	cfg Config
}

// NewSelector creates a selector
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Select cross-validates every candidate and picks the one with the lowest
// penalized error. Cancellation is checked between folds and candidates.
func (s *Selector) Select(ctx context.Context, policies []model.Policy) (*Result, error) {
	sorted := make([]model.Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	n := len(sorted)
	k := s.cfg.Folds
	if k > n {
		k = n
	}
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, have %d policies and %d folds", n, s.cfg.Folds)
	}
	folds := assignFolds(n, k, s.cfg.Seed)

	grids, err := s.candidateGrids()
	if err != nil {
		return nil, err
	}

	res := &Result{Policies: n, Folds: k, LowerBound: s.cfg.Fit.LowerBound}
	var lastErr error
	for _, cg := range grids {
		for _, strength := range s.cfg.AnchorStrengths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cand := Candidate{Grid: cg.kind, GridPoints: len(cg.points), AnchorStrength: strength}
			score, err := s.evaluate(ctx, cand, cg.points, sorted, folds, k)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = err
				score = CandidateScore{Candidate: cand, Points: cg.points, Disqualified: true, Reason: err.Error()}
			}
			res.Candidates = append(res.Candidates, score)
		}
	}

	chosen, ok := choose(res.Candidates, s.cfg.TieTolerance)
	if !ok {
		return nil, fmt.Errorf("no candidate could be fitted: %w", lastErr)
	}
	res.Chosen = chosen
	res.Gap = chosen.CVError - res.LowerBound
	if res.LowerBound > 0 {
		res.Ratio = chosen.CVError / res.LowerBound
	}
	return res, nil
}

// evaluate runs k-fold cross-validation for one candidate. Any failed fold
// disqualifies the candidate.
func (s *Selector) evaluate(ctx context.Context, cand Candidate, points []float64, policies []model.Policy, folds []int, k int) (CandidateScore, error) {
	g, err := grid.New(points)
	if err != nil {
		return CandidateScore{}, err
	}
	fitCfg := s.cfg.Fit
	fitCfg.Penalty.AnchorStrength = cand.AnchorStrength

	var ss, ws float64
	for f := 0; f < k; f++ {
		if err := ctx.Err(); err != nil {
			return CandidateScore{}, err
		}
		var train, test []model.Policy
		for i, p := range policies {
			if folds[i] == f {
				test = append(test, p)
			} else {
				train = append(train, p)
			}
		}

		c, err := estimate.Fit(train, g, fitCfg)
		if err != nil {
			return CandidateScore{}, fmt.Errorf("fold %d: %w", f, err)
		}
		pricer := pricing.New(c, fitCfg.ExposureBase)
		for _, p := range test {
			q, err := pricer.PricePolicy(p)
			if err != nil {
				return CandidateScore{}, fmt.Errorf("fold %d: %w", f, err)
			}
			base := p.Base(fitCfg.ExposureBase)
			r := p.Rate(fitCfg.ExposureBase) - q.Premium/base
			ss += p.Exposure * r * r
			ws += p.Exposure
		}
	}
	if ws == 0 {
		return CandidateScore{}, errors.New("no held-out exposure")
	}

	mse := ss / ws
	return CandidateScore{
		Candidate: cand,
		Points:    points,
		MSE:       mse,
		CVError:   math.Sqrt(mse),
		Criterion: mse * (1 + s.cfg.ComplexityPenalty*float64(cand.Segments())/float64(len(policies))),
	}, nil
}

// assignFolds gives each of n policies a fold in [0, k) via a seeded shuffle
func assignFolds(n, k int, seed uint64) []int {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	folds := make([]int, n)
	for pos, i := range rng.Perm(n) {
		folds[i] = pos % k
	}
	return folds
}

type candidateGrid struct {
	kind   GridKind
	points []float64
}

// candidateGrids derives the sweep's grids from the LOB grid: the grid itself,
// its midpoint refinement, then one grid per configured count spread over the
// LOB range. Grids repeating an earlier one are skipped.
func (s *Selector) candidateGrids() ([]candidateGrid, error) {
	if s.cfg.Base == nil {
		return nil, &model.InvalidGridError{Reason: "selection needs the LOB grid"}
	}
	base := s.cfg.Base.Points()

	refined := make([]float64, 0, 2*len(base)-1)
	for i, x := range base {
		if i > 0 {
			refined = append(refined, (base[i-1]+x)/2)
		}
		refined = append(refined, x)
	}

	out := []candidateGrid{{GridLOB, base}, {GridRefined, refined}}
	for _, n := range s.cfg.GridCounts {
		pts, err := spacedPoints(base, n, s.cfg.Spacing)
		if err != nil {
			return nil, fmt.Errorf("grid of %d points: %w", n, err)
		}
		out = append(out, candidateGrid{GridSpaced, pts})
	}

	uniq := out[:0]
	for _, cg := range out {
		dup := false
		for _, seen := range uniq {
			if floats.Equal(seen.points, cg.points) {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, cg)
		}
	}
	return uniq, nil
}

// spacedPoints spreads n points over the range of base. Log spacing over a
// range starting at or below zero keeps the LOB minimum and log-spaces the
// rest from the first positive LOB point.
func spacedPoints(base []float64, n int, spacing grid.Spacing) ([]float64, error) {
	lo, hi := base[0], base[len(base)-1]
	if spacing == grid.SpacingLogUniform && lo <= 0 {
		if n < 3 {
			return []float64{lo, hi}, nil
		}
		g, err := grid.Build(base[1], hi, n-1, spacing, nil)
		if err != nil {
			return nil, err
		}
		return append([]float64{lo}, g.Points()...), nil
	}
	g, err := grid.Build(lo, hi, n, spacing, nil)
	if err != nil {
		return nil, err
	}
	return g.Points(), nil
}

// choose picks the lowest criterion; candidates within tol of it count as tied
// and the tie goes to fewer segments, then the stronger anchor, then the LOB grid
func choose(scores []CandidateScore, tol float64) (CandidateScore, bool) {
	best := math.Inf(1)
	for _, s := range scores {
		if !s.Disqualified && s.Criterion < best {
			best = s.Criterion
		}
	}
	if math.IsInf(best, 1) {
		return CandidateScore{}, false
	}

	var tied []CandidateScore
	for _, s := range scores {
		if !s.Disqualified && s.Criterion <= best*(1+tol) {
			tied = append(tied, s)
		}
	}
	sort.SliceStable(tied, func(i, j int) bool {
		a, b := tied[i], tied[j]
		if a.Segments() != b.Segments() {
			return a.Segments() < b.Segments()
		}
		if a.AnchorStrength != b.AnchorStrength {
			return a.AnchorStrength > b.AnchorStrength
		}
		if (a.Grid == GridLOB) != (b.Grid == GridLOB) {
			return a.Grid == GridLOB
		}
		return a.Criterion < b.Criterion
	})
	return tied[0], true
}
