package curve

import "github.com/ppiankov/rolcurve/internal/model"

// SegmentDiagnostics records how one segment was produced
type SegmentDiagnostics struct {
	Index        int                `json:"index"`
	N            int                `json:"n"`
	Imputed      bool               `json:"imputed"`
	Reason       string             `json:"reason,omitempty"` // Why the segment was imputed
	Anchored     bool               `json:"anchored"`
	ResidualStd  float64            `json:"residual_std"`
	RMSE         float64            `json:"rmse"`
	Coefficients map[string]float64 `json:"coefficients,omitempty"`
}

// Complexity is the grid/anchor combination chosen by cross-validation
type Complexity struct {
	Grid           string  `json:"grid,omitempty"` // lob, refined or spaced
	GridPoints     int     `json:"grid_points"`
	AnchorStrength float64 `json:"anchor_strength"`
	CVError        float64 `json:"cv_error"`
	Criterion      float64 `json:"criterion"`
}

// FitDiagnostics summarizes a curve fit
type FitDiagnostics struct {
	Policies  int                  `json:"policies"`
	Segments  []SegmentDiagnostics `json:"segments"`
	RMSE      float64              `json:"rmse"`       // In-sample exposure-weighted rate RMSE
	PooledStd float64              `json:"pooled_std"` // Residual std over all fitted segments

	LowerBound float64 `json:"lower_bound,omitempty"` // Irreducible error, 0 when unknown
	Ratio      float64 `json:"ratio,omitempty"`       // RMSE / LowerBound

	Rounds       int                         `json:"rounds"` // Shape escalation rounds used
	NonMonotonic *model.NonMonotonicFitError `json:"non_monotonic,omitempty"`
	Warnings     []string                    `json:"warnings,omitempty"`
	Complexity   *Complexity                 `json:"complexity,omitempty"`
}

// Imputed returns the number of imputed segments
func (d FitDiagnostics) Imputed() int {
	n := 0
	for _, s := range d.Segments {
		if s.Imputed {
			n++
		}
	}
	return n
}
