package score

import (
	"testing"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
)

func scoredCurve(t *testing.T, diag curve.FitDiagnostics) *curve.RolCurve {
	t.Helper()
	g, err := grid.New([]float64{0, 1e6, 5e6, 10e6})
	if err != nil {
		t.Fatal(err)
	}
	segs := []curve.Segment{
		{Lo: 0, Hi: 1e6, LeftRate: 0.08, RightRate: 0.08},
		{Lo: 1e6, Hi: 5e6, LeftRate: 0.04, RightRate: 0.04},
		{Lo: 5e6, Hi: 10e6, LeftRate: 0.02, RightRate: 0.02},
	}
	c, err := curve.New(g, segs, curve.InterpLinear, curve.ExtrapHoldLast, diag)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func segDiag(imputed ...bool) []curve.SegmentDiagnostics {
	out := make([]curve.SegmentDiagnostics, len(imputed))
	for i, imp := range imputed {
		out[i] = curve.SegmentDiagnostics{Index: i, Imputed: imp}
	}
	return out
}

func findSignal(s model.Score, typ model.SignalType) (model.Signal, bool) {
	for _, sig := range s.Signals {
		if sig.Type == typ {
			return sig, true
		}
	}
	return model.Signal{}, false
}

func TestScorer_Calculate_CleanFit(t *testing.T) {
	c := scoredCurve(t, curve.FitDiagnostics{
		Policies:   60,
		Segments:   segDiag(false, false, false),
		RMSE:       0.002,
		LowerBound: 0.002,
	})

	result := NewScorer(10).Calculate(c, 0)

	// 40 coverage + 30 fit + 20 shape + 10 depth
	if result.Index != 100 {
		t.Errorf("expected index 100, got %d", result.Index)
	}
	if result.Confidence != "high" {
		t.Errorf("expected high confidence, got %s", result.Confidence)
	}
	sig, ok := findSignal(result, model.SignalOutliers)
	if !ok {
		t.Fatal("expected outlier signal when outliers were checked")
	}
	if sig.Severity != model.SeverityInfo {
		t.Errorf("expected info severity for no outliers, got %s", sig.Severity)
	}
}

func TestScorer_Calculate_ImputedAndEscalated(t *testing.T) {
	c := scoredCurve(t, curve.FitDiagnostics{
		Policies:   15,
		Segments:   segDiag(false, true, true),
		RMSE:       0.004,
		LowerBound: 0.002,
		Rounds:     2,
	})

	result := NewScorer(10).Calculate(c, -1)

	// round(40/3)=13 + 15 fit + 10 shape + round(5/10*10)=5
	if result.Index != 43 {
		t.Errorf("expected index 43, got %d", result.Index)
	}
	if result.Confidence != "low" {
		t.Errorf("expected low confidence with mostly imputed segments, got %s", result.Confidence)
	}
	if _, ok := findSignal(result, model.SignalOutliers); ok {
		t.Error("expected no outlier signal when outliers were not checked")
	}
	cov, _ := findSignal(result, model.SignalDataCoverage)
	if cov.Severity != model.SeverityCritical {
		t.Errorf("expected critical coverage, got %s", cov.Severity)
	}
	shape, _ := findSignal(result, model.SignalShape)
	if shape.Severity != model.SeverityWarning {
		t.Errorf("expected warning shape severity, got %s", shape.Severity)
	}
}

func TestScorer_Calculate_NonMonotonic(t *testing.T) {
	c := scoredCurve(t, curve.FitDiagnostics{
		Policies:     60,
		Segments:     segDiag(false, false, false),
		RMSE:         0.002,
		Rounds:       3,
		NonMonotonic: &model.NonMonotonicFitError{Rounds: 3, Violation: 0.01},
	})

	result := NewScorer(10).Calculate(c, 0)
	shape, _ := findSignal(result, model.SignalShape)
	if shape.Severity != model.SeverityCritical {
		t.Errorf("expected critical shape signal, got %s", shape.Severity)
	}
	if result.Confidence != "low" {
		t.Errorf("expected low confidence, got %s", result.Confidence)
	}
}

func TestScorer_FitQualityWithoutLowerBound(t *testing.T) {
	// Width-weighted mean rate is (0.08*1 + 0.04*4 + 0.02*5) / 10 = 0.034
	c := scoredCurve(t, curve.FitDiagnostics{
		Policies: 60,
		Segments: segDiag(false, false, false),
		RMSE:     0.0034,
	})

	score, sig := NewScorer(10).calculateFitQuality(c)
	if score != 27 {
		t.Errorf("expected 27 points at 10%% relative error, got %d", score)
	}
	if sig.Data["formula"] != "max(0, 1 - rmse / mean_rate) * 30" {
		t.Errorf("unexpected formula %v", sig.Data["formula"])
	}
}

func TestScorer_OutliersAndSkipped(t *testing.T) {
	c := scoredCurve(t, curve.FitDiagnostics{
		Policies: 40,
		Segments: segDiag(false, false, false),
		RMSE:     0.002,
		Warnings: []string{"skipped: policy x: limit must be > 0, got 0", "segment 2 imputed"},
	})

	result := NewScorer(10).Calculate(c, 5)
	out, ok := findSignal(result, model.SignalOutliers)
	if !ok || out.Severity != model.SeverityCritical {
		t.Errorf("expected critical outlier signal at 12.5%%, got %+v", out)
	}
	skip, ok := findSignal(result, model.SignalSkipped)
	if !ok {
		t.Fatal("expected skipped signal")
	}
	if skip.Data["skipped"] != 1 {
		t.Errorf("expected 1 skipped, got %v", skip.Data["skipped"])
	}
}

func TestNewScorer_Default(t *testing.T) {
	if s := NewScorer(0); s.perSegment != 10 {
		t.Errorf("expected default 10 policies per segment, got %d", s.perSegment)
	}
}
