// Package regress fits the regularized weighted linear model for a single exposure segment.
package regress

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/rolcurve/internal/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// maxCondition bounds the condition number of XᵀWX before a fit is called degenerate
	maxCondition = 1e12
	// minVariance drops features that do not vary inside the segment
	minVariance = 1e-12
)

// Observation is one policy as seen by a segment regression
type Observation struct {
	ID       string
	Rate     float64 // Observed rate on line (target)
	Weight   float64 // Exposure weight (> 0)
	Position float64 // Relative position of the layer midpoint inside the segment, [0, 1]
	Size     float64
	Industry string
}

// SegmentFit is the result of one segment regression
type SegmentFit struct {
	Names        []string  `json:"names"`
	Coefficients []float64 `json:"coefficients"`

	LeftRate  float64 `json:"left_rate"`  // Portfolio-average rate at the segment's left edge
	RightRate float64 `json:"right_rate"` // Portfolio-average rate at the segment's right edge

	Residuals   []float64 `json:"residuals"`    // Observed minus fitted rate, in input order
	ResidualStd float64   `json:"residual_std"` // Weighted, degrees-of-freedom corrected
	RMSE        float64   `json:"rmse"`         // Weighted root mean square residual
	N           int       `json:"n"`

	SizeCoef        float64            `json:"size_coef"`   // Rate change per unit log(size)
	SizeCenter      float64            `json:"size_center"` // Weighted mean log(size)
	IndustryEffects map[string]float64 `json:"industry_effects,omitempty"`

	Anchored bool `json:"anchored"` // Whether the anchor term was applied
}

// Rate returns the mean rate over the segment, i.e. the rate at its centre
func (f *SegmentFit) Rate() float64 {
	return (f.LeftRate + f.RightRate) / 2
}

type column struct {
	name     string
	values   []float64
	industry string  // Set for industry indicators
	mean     float64 // Weighted mean removed by centring
}

// Fit runs a weighted ridge regression of rate on {position, log(size), industry}
// with an optional anchor pulling the left-edge rate toward anchor.
// anchor is nil for the first fitted segment of a curve.
func Fit(obs []Observation, anchor *float64, pen Penalty) (*SegmentFit, error) {
	n := len(obs)
	if n == 0 {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: "no observations"}
	}

	var wsum float64
	y := make([]float64, n)
	for i, o := range obs {
		if !(o.Weight > 0) || math.IsInf(o.Weight, 0) {
			return nil, &model.DegenerateFitError{Segment: -1, Reason: fmt.Sprintf("non-positive weight for %s", o.ID)}
		}
		if math.IsNaN(o.Rate) || math.IsInf(o.Rate, 0) {
			return nil, &model.DegenerateFitError{Segment: -1, Reason: fmt.Sprintf("non-finite rate for %s", o.ID)}
		}
		wsum += o.Weight
		y[i] = o.Rate
	}

	// Normalise weights to mean 1 so penalty strengths read as policy-equivalents
	w := make([]float64, n)
	for i, o := range obs {
		w[i] = o.Weight * float64(n) / wsum
	}

	cols, sizeCenter := designColumns(obs, w)
	p := 1 + len(cols)
	if n < p {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: fmt.Sprintf("%d observations for %d coefficients", n, p)}
	}

	X := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1)
		for j, c := range cols {
			X.Set(i, j+1, c.values[i])
		}
	}

	gram, rhs := normalEquations(X, w, y)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: "design matrix is rank-deficient"}
	}
	if cond := chol.Cond(); math.IsNaN(cond) || cond > maxCondition {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: fmt.Sprintf("ill-conditioned design (cond %.3g)", cond)}
	}

	useAnchor := anchor != nil && pen.active()
	beta, err := solve(gram, rhs, p, pen, anchor, useAnchor && pen.Anchor == AnchorLinear)
	if err != nil {
		return nil, err
	}
	anchored := useAnchor && pen.Anchor == AnchorLinear

	// One-sided anchor: only pull down a segment that would start above its predecessor
	if useAnchor && pen.Anchor == AnchorMonotone && beta.AtVec(0) > *anchor {
		beta, err = solve(gram, rhs, p, pen, anchor, true)
		if err != nil {
			return nil, err
		}
		anchored = true
	}

	var fitted mat.VecDense
	fitted.MulVec(X, beta)

	fit := &SegmentFit{
		Names:        make([]string, p),
		Coefficients: make([]float64, p),
		Residuals:    make([]float64, n),
		N:            n,
		SizeCenter:   sizeCenter,
		Anchored:     anchored,
	}
	fit.Names[0] = "intercept"
	fit.Coefficients[0] = beta.AtVec(0)
	fit.LeftRate = beta.AtVec(0)
	fit.RightRate = beta.AtVec(0)

	industries := make(map[string]struct{})
	for _, o := range obs {
		industries[o.Industry] = struct{}{}
	}
	var industryBase float64
	effects := make(map[string]float64, len(industries))
	for j, c := range cols {
		b := beta.AtVec(j + 1)
		fit.Names[j+1] = c.name
		fit.Coefficients[j+1] = b
		switch {
		case c.name == "position":
			fit.RightRate = fit.LeftRate + b
		case c.name == "log_size":
			fit.SizeCoef = b
		case c.industry != "":
			industryBase -= b * c.mean
			effects[c.industry] = b
		}
	}
	for ind := range industries {
		effects[ind] += industryBase
	}
	fit.IndustryEffects = effects

	var sse float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		fit.Residuals[i] = r
		sse += w[i] * r * r
	}
	fit.RMSE = math.Sqrt(sse / float64(n))
	if dof := n - p; dof > 0 {
		fit.ResidualStd = math.Sqrt(sse / float64(dof))
	} else {
		fit.ResidualStd = fit.RMSE
	}

	return fit, nil
}

// designColumns builds the centred feature columns, dropping those with no variance.
// It returns the weighted mean log(size) used for centring.
func designColumns(obs []Observation, w []float64) ([]column, float64) {
	n := len(obs)
	var cols []column
	if n < 2 {
		return cols, 0
	}

	pos := make([]float64, n)
	for i, o := range obs {
		pos[i] = o.Position
	}
	if _, v := stat.MeanVariance(pos, w); v > minVariance {
		cols = append(cols, column{name: "position", values: pos})
	}

	var sizeCenter float64
	logSize := make([]float64, n)
	sizeOK := true
	for i, o := range obs {
		if !(o.Size > 0) {
			sizeOK = false
			break
		}
		logSize[i] = math.Log(o.Size)
	}
	if sizeOK {
		m, v := stat.MeanVariance(logSize, w)
		sizeCenter = m
		if v > minVariance {
			for i := range logSize {
				logSize[i] -= m
			}
			cols = append(cols, column{name: "log_size", values: logSize})
		}
	}

	seen := make(map[string]struct{})
	var industries []string
	for _, o := range obs {
		if _, ok := seen[o.Industry]; !ok {
			seen[o.Industry] = struct{}{}
			industries = append(industries, o.Industry)
		}
	}
	sort.Strings(industries)
	// industries[0] is the reference level
	for _, ind := range industries[1:] {
		d := make([]float64, n)
		for i, o := range obs {
			if o.Industry == ind {
				d[i] = 1
			}
		}
		m, v := stat.MeanVariance(d, w)
		if v <= minVariance {
			continue
		}
		for i := range d {
			d[i] -= m
		}
		cols = append(cols, column{name: "industry=" + ind, values: d, industry: ind, mean: m})
	}

	return cols, sizeCenter
}

// normalEquations returns XᵀWX and XᵀWy
func normalEquations(X *mat.Dense, w, y []float64) (*mat.SymDense, *mat.VecDense) {
	n, p := X.Dims()

	var xtw mat.Dense
	xtw.Mul(X.T(), mat.NewDiagDense(n, w))

	var g mat.Dense
	g.Mul(&xtw, X)

	gram := mat.NewSymDense(p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			gram.SetSym(j, k, g.At(j, k))
		}
	}

	var rhs mat.VecDense
	rhs.MulVec(&xtw, mat.NewVecDense(n, y))
	return gram, &rhs
}

// solve adds the ridge and (optionally) anchor terms to the normal equations and solves them
func solve(gram *mat.SymDense, rhs *mat.VecDense, p int, pen Penalty, anchor *float64, withAnchor bool) (*mat.VecDense, error) {
	a := mat.NewSymDense(p, nil)
	a.CopySym(gram)
	b := mat.VecDenseCopyOf(rhs)

	for j := 1; j < p; j++ {
		a.SetSym(j, j, a.At(j, j)+pen.Ridge)
	}
	if withAnchor {
		a.SetSym(0, 0, a.At(0, 0)+pen.AnchorStrength)
		b.SetVec(0, b.AtVec(0)+pen.AnchorStrength*(*anchor))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: "penalized system is not positive definite"}
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, b); err != nil {
		return nil, &model.DegenerateFitError{Segment: -1, Reason: fmt.Sprintf("solve: %v", err)}
	}
	return &beta, nil
}
