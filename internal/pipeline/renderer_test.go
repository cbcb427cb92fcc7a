package pipeline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/outlier"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{500, "500"},
		{1e6, "1M"},
		{2.5e6, "2.5M"},
		{250e3, "250k"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Amount(tt.in), "Amount(%v)", tt.in)
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1234.5, "1,234.50"},
		{80000, "80,000.00"},
		{-1234.567, "-1,234.57"},
		{-0.5, "-0.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Money(tt.in), "Money(%v)", tt.in)
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "4.250%", Percent(0.0425))
}

func renderedReport(t *testing.T, outliers int) *Report {
	t.Helper()
	g, err := grid.New([]float64{0, 1e6, 5e6})
	require.NoError(t, err)
	rc, err := curve.New(g, []curve.Segment{
		{Lo: 0, Hi: 1e6, LeftRate: 0.08, RightRate: 0.06},
		{Lo: 1e6, Hi: 5e6, LeftRate: 0.05, RightRate: 0.03, Imputed: true},
	}, curve.InterpLinear, curve.ExtrapHoldLast, curve.FitDiagnostics{
		Policies: 12,
		Segments: []curve.SegmentDiagnostics{{Index: 0, N: 12}, {Index: 1, Imputed: true}},
		Warnings: []string{"segment 1 imputed"},
	})
	require.NoError(t, err)
	rc.Client, rc.LOB, rc.FittedAt = "acme", "do", time.Now().Add(-time.Hour)

	r := &Report{
		RunID:  "run-1",
		Client: "acme",
		LOB:    "do",
		Curve:  rc,
		Score: model.Score{Index: 55, Confidence: "low", Signals: []model.Signal{
			{Type: model.SignalDataCoverage, Severity: model.SeverityWarning, Description: "Fitted segments: 1/2 (1 imputed)"},
		}},
	}
	for i := 0; i < outliers; i++ {
		r.Outliers = append(r.Outliers, outlier.Row{PolicyID: "p", Observed: 1000, Predicted: 500, Z: 3})
	}
	return r
}

func TestRenderer_Markdown(t *testing.T) {
	md := NewRenderer().Markdown(renderedReport(t, 25))

	for _, want := range []string{
		"# ROL curve: acme / do",
		"**Index: 55/100** (confidence: low)",
		"⚠ **data_coverage**",
		"| 0 | 0 – 1M | 8.000% | 6.000% | ±0.000% | 12 |  |",
		"| 1 | 1M – 5M | 5.000% | 3.000% | ±0.000% | 0 | yes |",
		"- ⚠ segment 1 imputed",
		"| p | 0 | 1,000.00 | 500.00 | 3.00 |",
		"_5 more not shown._",
	} {
		assert.Contains(t, md, want)
	}
}

func TestRenderer_Summary(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer().RenderSummary(&buf, renderedReport(t, 1))
	got := buf.String()
	assert.True(t, strings.HasPrefix(got, "acme/do: index 55/100 (low), 2 segments (1 imputed)"), "unexpected summary %q", got)
	assert.Contains(t, got, "1 hour ago", "expected humanized fit time")
}
