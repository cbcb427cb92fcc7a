// Package estimate bootstraps a ROL curve segment by segment over an exposure grid.
package estimate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pricing"
	"github.com/ppiankov/rolcurve/internal/regress"
	"github.com/rs/zerolog/log"
)

// Estimator fits curves with a fixed configuration
type Estimator struct {
	cfg Config
	now func() time.Time
}

// NewEstimator creates an estimator
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg, now: time.Now}
}

// Config returns the estimator settings
func (e *Estimator) Config() Config { return e.cfg }

// Fit fits one (client, LOB) portfolio and stamps the curve with its key and fit time
func (e *Estimator) Fit(key model.GroupKey, policies []model.Policy, g *grid.Grid) (*curve.RolCurve, error) {
	start := e.now()
	c, err := Fit(policies, g, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", key, err)
	}
	c.Client, c.LOB = key.Client, key.LOB
	c.FittedAt = start.UTC()

	log.Debug().
		Str("group", key.String()).
		Int("policies", len(policies)).
		Int("segments", len(c.Segments)).
		Int("imputed", c.Diagnostics.Imputed()).
		Int("rounds", c.Diagnostics.Rounds).
		Dur("elapsed", e.now().Sub(start)).
		Msg("curve fitted")
	return c, nil
}

// segmentState is the fold accumulator entry for one segment
type segmentState struct {
	policies []model.Policy
	obs      []regress.Observation
	fit      *regress.SegmentFit
	reason   string // Set when imputed
	left     float64
	right    float64
	band     float64
}

func (s *segmentState) imputed() bool { return s.fit == nil }

// Fit bootstraps a curve over g from the policies of one portfolio.
// It is pure: identical input and config give an identical curve.
func Fit(policies []model.Policy, g *grid.Grid, cfg Config) (*curve.RolCurve, error) {
	sorted := make([]model.Policy, 0, len(policies))
	var warnings []string
	for _, p := range policies {
		if err := p.Check(); err != nil {
			warnings = append(warnings, "skipped: "+err.Error())
			continue
		}
		sorted = append(sorted, p)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Midpoint assignment: every policy lands in exactly one segment
	buckets := make([][]model.Policy, g.Segments())
	for _, p := range sorted {
		i := g.Locate(p.Mid())
		buckets[i] = append(buckets[i], p)
	}

	pen := cfg.Penalty
	var (
		states       []*segmentState
		nonMonotonic *model.NonMonotonicFitError
		rounds       int
	)
	for {
		var err error
		states, err = fold(buckets, g, cfg, pen)
		if err != nil {
			return nil, err
		}
		impute(states, g)

		if cfg.Shape == ShapeNone {
			break
		}
		v := checkShape(states, cfg.MonotoneTolerance)
		if !v.any() {
			break
		}
		if rounds >= cfg.MaxEscalations {
			nonMonotonic = &model.NonMonotonicFitError{Rounds: rounds, Violation: v.max}
			warnings = append(warnings, nonMonotonic.Error())
			break
		}
		rounds++
		if v.inSegment {
			pen.Ridge = escalate(pen.Ridge, cfg.EscalationFactor)
		}
		if v.boundary {
			pen.AnchorStrength = escalate(pen.AnchorStrength, cfg.EscalationFactor)
		}
	}

	segments := make([]curve.Segment, len(states))
	diag := curve.FitDiagnostics{
		Policies:     len(sorted),
		Segments:     make([]curve.SegmentDiagnostics, len(states)),
		LowerBound:   cfg.LowerBound,
		Rounds:       rounds,
		NonMonotonic: nonMonotonic,
	}
	var pooledSS, pooledDOF float64
	for i, s := range states {
		lo, hi := g.Bounds(i)
		segments[i] = curve.Segment{
			Lo: lo, Hi: hi,
			LeftRate: s.left, RightRate: s.right,
			Band:    s.band,
			Imputed: s.imputed(),
		}
		sd := curve.SegmentDiagnostics{Index: i, N: len(s.policies), Imputed: s.imputed(), Reason: s.reason}
		if s.fit != nil {
			segments[i].SizeCoef = s.fit.SizeCoef
			segments[i].SizeCenter = s.fit.SizeCenter
			segments[i].IndustryEffects = s.fit.IndustryEffects

			sd.Anchored = s.fit.Anchored
			sd.ResidualStd = s.fit.ResidualStd
			sd.RMSE = s.fit.RMSE
			sd.Coefficients = make(map[string]float64, len(s.fit.Names))
			for j, name := range s.fit.Names {
				sd.Coefficients[name] = s.fit.Coefficients[j]
			}

			dof := float64(s.fit.N - len(s.fit.Coefficients))
			if dof <= 0 {
				dof = float64(s.fit.N)
			}
			pooledSS += s.fit.ResidualStd * s.fit.ResidualStd * dof
			pooledDOF += dof
		} else {
			warnings = append(warnings, fmt.Sprintf("segment %d imputed: %s", i, s.reason))
		}
		diag.Segments[i] = sd
	}
	if pooledDOF > 0 {
		diag.PooledStd = math.Sqrt(pooledSS / pooledDOF)
	}

	c, err := curve.New(g, segments, cfg.Interpolation, cfg.Extrapolation, diag)
	if err != nil {
		return nil, fmt.Errorf("assemble curve: %w", err)
	}
	c.ExposureBase = string(cfg.ExposureBase)

	rmse, err := InSampleRMSE(c, sorted, cfg.ExposureBase)
	if err != nil {
		return nil, err
	}
	c.Diagnostics.RMSE = rmse
	if cfg.LowerBound > 0 {
		c.Diagnostics.Ratio = rmse / cfg.LowerBound
	}
	c.Diagnostics.Warnings = warnings
	return c, nil
}

// fold runs the ordered pass over segments, carrying the previous fitted
// segment's right-edge rate forward as the anchor
func fold(buckets [][]model.Policy, g *grid.Grid, cfg Config, pen regress.Penalty) ([]*segmentState, error) {
	states := make([]*segmentState, len(buckets))
	var anchor *float64
	fitted := 0
	total := 0

	for i, bucket := range buckets {
		s := &segmentState{policies: bucket}
		states[i] = s
		total += len(bucket)

		if len(bucket) < cfg.MinPolicies {
			s.reason = fmt.Sprintf("%d policies, below minimum %d", len(bucket), cfg.MinPolicies)
			continue
		}

		s.obs = observations(bucket, g, i, cfg.ExposureBase)
		fit, err := regress.Fit(s.obs, anchor, pen)
		if err != nil {
			var degenerate *model.DegenerateFitError
			if errors.As(err, &degenerate) {
				degenerate.Segment = i
				s.reason = degenerate.Error()
				continue
			}
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}

		s.fit = fit
		s.left = math.Max(0, fit.LeftRate)
		s.right = math.Max(0, fit.RightRate)
		if cfg.BandZ > 0 && fit.N > 0 {
			s.band = cfg.BandZ * fit.ResidualStd / math.Sqrt(float64(fit.N))
		}
		next := s.right
		anchor = &next
		fitted++
	}

	if fitted == 0 {
		return nil, &model.InsufficientDataError{Segments: len(buckets), Policies: total, MinPolicies: cfg.MinPolicies}
	}
	return states, nil
}

func observations(policies []model.Policy, g *grid.Grid, seg int, base model.ExposureBase) []regress.Observation {
	obs := make([]regress.Observation, len(policies))
	for i, p := range policies {
		obs[i] = regress.Observation{
			ID:       p.ID,
			Rate:     p.Rate(base),
			Weight:   p.Exposure,
			Position: g.Position(seg, p.Mid()),
			Size:     p.Size,
			Industry: p.Industry,
		}
	}
	return obs
}

// impute fills segments without a direct fit by interpolating linearly between
// the nearest fitted neighbours, carrying the nearest value at the ends
func impute(states []*segmentState, g *grid.Grid) {
	for i, s := range states {
		if !s.imputed() {
			continue
		}
		l, r := -1, -1
		for j := i - 1; j >= 0; j-- {
			if !states[j].imputed() {
				l = j
				break
			}
		}
		for j := i + 1; j < len(states); j++ {
			if !states[j].imputed() {
				r = j
				break
			}
		}

		lo, hi := g.Bounds(i)
		switch {
		case l >= 0 && r >= 0:
			_, xl := g.Bounds(l)
			xr, _ := g.Bounds(r)
			vl, vr := states[l].right, states[r].left
			at := func(x float64) float64 { return vl + (vr-vl)*(x-xl)/(xr-xl) }
			s.left, s.right = at(lo), at(hi)
			s.band = math.Max(states[l].band, states[r].band)
		case l >= 0:
			s.left, s.right = states[l].right, states[l].right
			s.band = states[l].band
		case r >= 0:
			s.left, s.right = states[r].left, states[r].left
			s.band = states[r].band
		}
	}
}

// violations summarizes a shape check
type violations struct {
	inSegment bool    // A segment rises from its left to its right edge
	boundary  bool    // A segment starts above where its predecessor ended
	max       float64 // Largest increase found
}

func (v violations) any() bool { return v.inSegment || v.boundary }

// checkShape walks [L0, R0, L1, R1, ...] looking for increases above tol.
// A rise inside an imputed segment is a jump between fitted neighbours, so it
// counts as a boundary violation.
func checkShape(states []*segmentState, tol float64) violations {
	var v violations
	for i, s := range states {
		if d := s.right - s.left; d > tol {
			if s.imputed() {
				v.boundary = true
			} else {
				v.inSegment = true
			}
			v.max = math.Max(v.max, d)
		}
		if i > 0 {
			if d := s.left - states[i-1].right; d > tol {
				v.boundary = true
				v.max = math.Max(v.max, d)
			}
		}
	}
	return v
}

func escalate(strength, factor float64) float64 {
	if strength <= 0 {
		return 1
	}
	return strength * factor
}

// InSampleRMSE is the exposure-weighted RMSE of observed rates against the curve
func InSampleRMSE(c *curve.RolCurve, policies []model.Policy, base model.ExposureBase) (float64, error) {
	p := pricing.New(c, base)
	var ss, ws float64
	for _, pol := range policies {
		q, err := p.PricePolicy(pol)
		if err != nil {
			return 0, err
		}
		r := pol.Rate(base) - q.Premium/pol.Base(base)
		ss += pol.Exposure * r * r
		ws += pol.Exposure
	}
	if ws == 0 {
		return 0, nil
	}
	return math.Sqrt(ss / ws), nil
}
