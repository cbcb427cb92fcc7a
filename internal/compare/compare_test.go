package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/ingest"
	"github.com/ppiankov/rolcurve/internal/model"
)

func flat(t *testing.T, points []float64, rates ...float64) *curve.RolCurve {
	t.Helper()
	g, err := grid.New(points)
	require.NoError(t, err)
	segs := make([]curve.Segment, len(rates))
	for i, r := range rates {
		lo, hi := g.Bounds(i)
		segs[i] = curve.Segment{Lo: lo, Hi: hi, LeftRate: r, RightRate: r}
	}
	c, err := curve.New(g, segs, curve.InterpStep, curve.ExtrapHoldLast, curve.FitDiagnostics{})
	require.NoError(t, err)
	return c
}

func TestCompare(t *testing.T) {
	curves := map[string]*curve.RolCurve{
		"small": flat(t, []float64{0, 1e6, 5e6}, 0.08, 0.04),
		"large": flat(t, []float64{0, 2e6, 5e6}, 0.06, 0.05),
	}

	cmp, err := Compare(curves, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"large", "small"}, cmp.Labels)

	xs := make([]float64, len(cmp.Rows))
	for i, r := range cmp.Rows {
		xs[i] = r.X
	}
	assert.Equal(t, []float64{0, 1e6, 2e6, 5e6}, xs)

	first := cmp.Rows[0]
	assert.InDelta(t, 0.08, first.Rates["small"], 1e-12)
	assert.InDelta(t, 0.02, first.Spread, 1e-12)
	assert.Equal(t, "large", first.Low)
	assert.Equal(t, "small", first.High)

	// At 1M small drops to 0.04 while large is still 0.06
	assert.Equal(t, "small", cmp.Rows[1].Low)

	widest, ok := cmp.MaxSpread()
	require.True(t, ok)
	assert.InDelta(t, 0.02, widest.Spread, 1e-12)
}

func TestCompare_ExplicitPoints(t *testing.T) {
	curves := map[string]*curve.RolCurve{
		"a": flat(t, []float64{0, 1e6}, 0.05),
		"b": flat(t, []float64{0, 1e6}, 0.05),
	}
	cmp, err := Compare(curves, []float64{0.5e6})
	require.NoError(t, err)
	require.Len(t, cmp.Rows, 1)
	assert.Equal(t, 0.0, cmp.Rows[0].Spread)
	assert.Equal(t, "a", cmp.Rows[0].Low, "ties keep the first label")
	assert.Equal(t, "a", cmp.Rows[0].High)
}

func TestCompare_NeedsTwo(t *testing.T) {
	_, err := Compare(map[string]*curve.RolCurve{"a": flat(t, []float64{0, 1}, 0.1)}, nil)
	assert.Error(t, err)
}

func TestSplitBySize(t *testing.T) {
	b, err := ingest.NewBinner([]float64{0, 10e6, 100e6}, []string{"small", "large"})
	require.NoError(t, err)

	policies := []model.Policy{
		{ID: "1", Size: 5e6},
		{ID: "2", Size: 50e6},
		{ID: "3", Size: 10e6},
		{ID: "4", Size: 500e6},
	}
	groups, rest := SplitBySize(policies, b)
	assert.Len(t, groups["small"], 2)
	assert.Len(t, groups["large"], 1)
	require.Len(t, rest, 1)
	assert.Equal(t, "4", rest[0].ID)
}

func TestSplitByIndustry(t *testing.T) {
	groups := SplitByIndustry([]model.Policy{
		{ID: "1", Industry: "tech"},
		{ID: "2", Industry: "retail"},
		{ID: "3", Industry: "tech"},
		{ID: "4"},
	})
	assert.Len(t, groups, 2)
	assert.Len(t, groups["tech"], 2)
}
