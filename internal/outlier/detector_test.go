package outlier

import (
	"fmt"
	"testing"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/estimate"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handCurve uses binary-exact rates so z-scores compare exactly
func handCurve(t *testing.T) *curve.RolCurve {
	t.Helper()
	g, err := grid.New([]float64{0, 1e6, 5e6})
	require.NoError(t, err)
	c, err := curve.New(g, []curve.Segment{
		{Lo: 0, Hi: 1e6, LeftRate: 0.125, RightRate: 0.125},
		{Lo: 1e6, Hi: 5e6, LeftRate: 0.0625, RightRate: 0.0625, Imputed: true},
	}, curve.InterpLinear, curve.ExtrapHoldLast, curve.FitDiagnostics{
		Segments: []curve.SegmentDiagnostics{
			{Index: 0, N: 20, ResidualStd: 0.015625},
			{Index: 1, Imputed: true},
		},
		PooledStd: 0.0078125,
	})
	require.NoError(t, err)
	return c
}

func layer(id string, att, limit, premium float64) model.Policy {
	return model.Policy{ID: id, Attachment: att, Limit: limit, Premium: premium, Exposure: limit, Size: 1}
}

func TestScoreRanking(t *testing.T) {
	d := NewDetector(pricing.New(handCurve(t), model.BaseLimit), model.BaseLimit, 0)

	policies := []model.Policy{
		layer("c", 2e5, 1e5, 10937.5), // z = -1
		layer("a", 4e5, 1e5, 20312.5), // z = 5
		layer("b", 2e6, 1e6, 85937.5), // z = 3 on the pooled std
		layer("d", 6e5, 2e5, 40625),   // z = 5, larger raw residual than a
	}

	rows, err := d.Score(policies)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	var ids []string
	for _, r := range rows {
		ids = append(ids, r.PolicyID)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)

	assert.Equal(t, 5.0, rows[0].Z)
	assert.Equal(t, 5.0, rows[1].Z)
	assert.Equal(t, 3.0, rows[2].Z)
	assert.True(t, rows[2].Pooled)
	assert.Equal(t, 1, rows[2].Segment)
	assert.Equal(t, -1.0, rows[3].Z)
	assert.False(t, rows[3].Flagged)

	flagged, err := d.Detect(policies)
	require.NoError(t, err)
	assert.Len(t, flagged, 3)
}

func TestScoreTieBreaksOnID(t *testing.T) {
	d := NewDetector(pricing.New(handCurve(t), model.BaseLimit), model.BaseLimit, 0)
	rows, err := d.Score([]model.Policy{
		layer("y", 2e5, 1e5, 12500),
		layer("x", 3e5, 1e5, 12500),
	})
	require.NoError(t, err)
	assert.Equal(t, "x", rows[0].PolicyID)
	assert.Equal(t, "y", rows[1].PolicyID)
	assert.Equal(t, 0.0, rows[0].Z)
}

func injectedPortfolio(g *grid.Grid) []model.Policy {
	rates := []float64{0.08, 0.04, 0.02}
	var policies []model.Policy
	for s, lo := range []float64{0, 1e6, 5e6} {
		_, hi := g.Bounds(s)
		for k := 0; k < 30; k++ {
			mid := lo + (hi-lo)*(float64(k)+0.5)/30
			limit := 0.02 * (hi - lo)
			if limit > 2*mid {
				limit = 2 * mid
			}
			wiggle := 1 + 0.01*float64(k%5-2)
			policies = append(policies, model.Policy{
				ID:         fmt.Sprintf("s%d-%02d", s, k),
				Attachment: mid - limit/2,
				Limit:      limit,
				Premium:    rates[s] * wiggle * limit,
				Exposure:   limit,
				Size:       1e6,
				Industry:   "retail",
			})
		}
	}
	return policies
}

func TestDetectFindsInjectedOutlier(t *testing.T) {
	g, err := grid.New([]float64{0, 1e6, 5e6, 10e6})
	require.NoError(t, err)

	// multiply the premium of one middle-segment policy
	for _, factor := range []float64{3, 10} {
		t.Run(fmt.Sprintf("x%v", factor), func(t *testing.T) {
			policies := injectedPortfolio(g)
			policies[45].Premium *= factor

			c, err := estimate.Fit(policies, g, estimate.DefaultConfig())
			require.NoError(t, err)

			d := NewDetector(pricing.New(c, model.BaseLimit), model.BaseLimit, DefaultThreshold)
			flagged, err := d.Detect(policies)
			require.NoError(t, err)
			require.NotEmpty(t, flagged)
			assert.Equal(t, policies[45].ID, flagged[0].PolicyID)
			assert.Greater(t, flagged[0].Z, DefaultThreshold)
		})
	}
}
