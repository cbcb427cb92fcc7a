package score

import (
	"fmt"
	"math"
	"strings"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Scorer grades a fitted curve and explains the grade with signals
type Scorer struct {
	perSegment int // Policies per segment considered deep enough
}

// NewScorer creates a new scorer. perSegment <= 0 uses 10.
func NewScorer(perSegment int) *Scorer {
	if perSegment <= 0 {
		perSegment = 10
	}
	return &Scorer{perSegment: perSegment}
}

// Calculate scores a curve. flagged is the number of outlier policies, -1 when not checked.
func (s *Scorer) Calculate(c *curve.RolCurve, flagged int) model.Score {
	var signals []model.Signal
	d := c.Diagnostics

	// 1. Data coverage (0-40 points)
	coverageScore, coverageSignal := s.calculateCoverage(d)
	signals = append(signals, coverageSignal)

	// 2. Fit quality (0-30 points)
	fitScore, fitSignal := s.calculateFitQuality(c)
	signals = append(signals, fitSignal)

	// 3. Shape (0-20 points)
	shapeScore, shapeSignal := s.calculateShape(d)
	signals = append(signals, shapeSignal)

	// 4. Sample depth (0-10 points)
	depthScore, depthSignal := s.calculateDepth(d, len(c.Segments))
	signals = append(signals, depthSignal)

	if sig, ok := s.detectOutliers(flagged, d.Policies); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.detectSkipped(d.Warnings); ok {
		signals = append(signals, sig)
	}

	total := coverageScore + fitScore + shapeScore + depthScore

	return model.Score{
		Index:      total,
		Confidence: s.determineConfidence(total, d, len(c.Segments)),
		Signals:    signals,
	}
}

// calculateCoverage scores the share of segments fitted from data (0-40 points)
func (s *Scorer) calculateCoverage(d curve.FitDiagnostics) (int, model.Signal) {
	total := len(d.Segments)
	if total == 0 {
		return 0, model.Signal{
			Type:        model.SignalDataCoverage,
			Severity:    model.SeverityCritical,
			Description: "No segment diagnostics",
			Data:        map[string]interface{}{"segments": 0},
		}
	}

	imputed := d.Imputed()
	ratio := float64(total-imputed) / float64(total)
	score := int(math.Round(ratio * 40))

	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if imputed > 0 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalDataCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Fitted segments: %d/%d (%d imputed)", total-imputed, total, imputed),
		Data: map[string]interface{}{
			"segments": total,
			"imputed":  imputed,
			"ratio":    ratio,
			"score":    score,
			"formula":  "fitted_segments / segments * 40",
		},
	}
}

// calculateFitQuality scores in-sample error (0-30 points). With a known lower
// bound the RMSE is judged against it, otherwise against the mean rate.
func (s *Scorer) calculateFitQuality(c *curve.RolCurve) (int, model.Signal) {
	d := c.Diagnostics
	if d.LowerBound > 0 && d.RMSE > 0 {
		ratio := d.RMSE / d.LowerBound
		score := int(math.Round(30 * math.Min(1, 1/ratio)))

		severity := model.SeverityInfo
		if ratio > 2 {
			severity = model.SeverityCritical
		} else if ratio > 1.25 {
			severity = model.SeverityWarning
		}
		return score, model.Signal{
			Type:        model.SignalFitQuality,
			Severity:    severity,
			Description: fmt.Sprintf("RMSE %.4f is %.2fx the lower bound %.4f", d.RMSE, ratio, d.LowerBound),
			Data: map[string]interface{}{
				"rmse":        d.RMSE,
				"lower_bound": d.LowerBound,
				"ratio":       ratio,
				"score":       score,
				"formula":     "min(1, lower_bound / rmse) * 30",
			},
		}
	}

	mean := meanRate(c)
	if mean <= 0 {
		return 0, model.Signal{
			Type:        model.SignalFitQuality,
			Severity:    model.SeverityWarning,
			Description: "No rate level to judge the fit against",
			Data:        map[string]interface{}{"rmse": d.RMSE},
		}
	}

	rel := d.RMSE / mean
	score := int(math.Round(30 * math.Max(0, 1-rel)))

	severity := model.SeverityInfo
	if rel > 0.5 {
		severity = model.SeverityCritical
	} else if rel > 0.2 {
		severity = model.SeverityWarning
	}
	return score, model.Signal{
		Type:        model.SignalFitQuality,
		Severity:    severity,
		Description: fmt.Sprintf("RMSE %.4f is %.0f%% of the mean rate", d.RMSE, rel*100),
		Data: map[string]interface{}{
			"rmse":      d.RMSE,
			"mean_rate": mean,
			"relative":  rel,
			"score":     score,
			"formula":   "max(0, 1 - rmse / mean_rate) * 30",
		},
	}
}

// calculateShape scores the decreasing-rate check (0-20 points)
func (s *Scorer) calculateShape(d curve.FitDiagnostics) (int, model.Signal) {
	if d.NonMonotonic != nil {
		return 0, model.Signal{
			Type:        model.SignalShape,
			Severity:    model.SeverityCritical,
			Description: fmt.Sprintf("Curve still rises by %.4f after %d escalation rounds", d.NonMonotonic.Violation, d.NonMonotonic.Rounds),
			Data: map[string]interface{}{
				"rounds":    d.NonMonotonic.Rounds,
				"violation": d.NonMonotonic.Violation,
				"score":     0,
			},
		}
	}

	score := 20 - 5*d.Rounds
	if score < 0 {
		score = 0
	}
	severity := model.SeverityInfo
	description := "Rates decrease with layer height"
	if d.Rounds > 0 {
		severity = model.SeverityWarning
		description = fmt.Sprintf("Rates decrease after %d penalty escalation rounds", d.Rounds)
	}
	return score, model.Signal{
		Type:        model.SignalShape,
		Severity:    severity,
		Description: description,
		Data: map[string]interface{}{
			"rounds":  d.Rounds,
			"score":   score,
			"formula": "20 - rounds * 5",
		},
	}
}

// calculateDepth scores policies per segment (0-10 points)
func (s *Scorer) calculateDepth(d curve.FitDiagnostics, segments int) (int, model.Signal) {
	if segments == 0 {
		return 0, model.Signal{
			Type:        model.SignalSampleDepth,
			Severity:    model.SeverityCritical,
			Description: "Curve has no segments",
		}
	}

	perSegment := float64(d.Policies) / float64(segments)
	ratio := math.Min(1, perSegment/float64(s.perSegment))
	score := int(math.Round(ratio * 10))

	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if ratio < 1 {
		severity = model.SeverityWarning
	}
	return score, model.Signal{
		Type:        model.SignalSampleDepth,
		Severity:    severity,
		Description: fmt.Sprintf("%.1f policies per segment", perSegment),
		Data: map[string]interface{}{
			"policies":    d.Policies,
			"segments":    segments,
			"per_segment": perSegment,
			"target":      s.perSegment,
			"score":       score,
			"formula":     "min(1, policies / segments / target) * 10",
		},
	}
}

// detectOutliers reports the share of flagged premiums; it never changes the index
func (s *Scorer) detectOutliers(flagged, policies int) (model.Signal, bool) {
	if flagged < 0 || policies == 0 {
		return model.Signal{}, false
	}
	share := float64(flagged) / float64(policies)

	severity := model.SeverityInfo
	if share > 0.1 {
		severity = model.SeverityCritical
	} else if share > 0.05 {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalOutliers,
		Severity:    severity,
		Description: fmt.Sprintf("Outlier premiums: %d/%d (%.1f%%)", flagged, policies, share*100),
		Data: map[string]interface{}{
			"flagged":  flagged,
			"policies": policies,
			"share":    share,
		},
	}, true
}

// detectSkipped reports policies the estimator dropped as invalid
func (s *Scorer) detectSkipped(warnings []string) (model.Signal, bool) {
	skipped := 0
	for _, w := range warnings {
		if strings.HasPrefix(w, "skipped") {
			skipped++
		}
	}
	if skipped == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalSkipped,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d policies skipped as invalid", skipped),
		Data:        map[string]interface{}{"skipped": skipped},
	}, true
}

// determineConfidence determines the confidence level based on the score
func (s *Scorer) determineConfidence(score int, d curve.FitDiagnostics, segments int) string {
	if d.NonMonotonic != nil {
		return "low"
	}
	if segments > 0 && d.Imputed()*2 > segments {
		return "low"
	}

	if score >= 80 {
		return "high"
	} else if score >= 60 {
		return "medium"
	}
	return "low"
}

// meanRate is the width-weighted mean segment rate over the grid
func meanRate(c *curve.RolCurve) float64 {
	var sum, width float64
	for _, seg := range c.Segments {
		sum += seg.Rate() * seg.Width()
		width += seg.Width()
	}
	if width == 0 {
		return 0
	}
	return sum / width
}
