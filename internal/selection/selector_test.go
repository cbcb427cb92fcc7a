package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ppiankov/rolcurve/internal/estimate"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepPortfolio() []model.Policy {
	type band struct{ lo, hi, rate float64 }
	bands := []band{{0, 1e6, 0.08}, {1e6, 5e6, 0.04}, {5e6, 10e6, 0.02}}
	var out []model.Policy
	for s, b := range bands {
		for k := 0; k < 30; k++ {
			mid := b.lo + (b.hi-b.lo)*(float64(k)+0.5)/30
			limit := 0.02 * (b.hi - b.lo)
			if limit > 2*mid {
				limit = 2 * mid
			}
			wiggle := 1 + 0.01*float64(k%5-2)
			out = append(out, model.Policy{
				ID:         fmt.Sprintf("s%d-%02d", s, k),
				Attachment: mid - limit/2,
				Limit:      limit,
				Premium:    b.rate * wiggle * limit,
				Exposure:   limit,
				Size:       1e6,
				Industry:   "retail",
			})
		}
	}
	return out
}

func lobGrid(t *testing.T, points ...float64) *grid.Grid {
	t.Helper()
	g, err := grid.New(points)
	require.NoError(t, err)
	return g
}

func testConfig(t *testing.T) Config {
	return Config{
		Base:              lobGrid(t, 0, 1e6, 5e6, 10e6),
		Folds:             5,
		GridCounts:        []int{2, 4, 40},
		AnchorStrengths:   []float64{0, 1},
		Spacing:           grid.SpacingUniform,
		ComplexityPenalty: 1,
		TieTolerance:      0.01,
		Seed:              42,
		Fit:               estimate.DefaultConfig(),
	}
}

func TestSelectFindsStructure(t *testing.T) {
	policies := stepPortfolio()
	res, err := NewSelector(testConfig(t)).Select(context.Background(), policies)
	require.NoError(t, err)

	// lob, refined and three spaced grids, each with two anchor strengths
	assert.Len(t, res.Candidates, 10)
	assert.Equal(t, GridLOB, res.Chosen.Grid)
	assert.Equal(t, 4, res.Chosen.GridPoints)
	assert.Equal(t, []float64{0, 1e6, 5e6, 10e6}, res.Chosen.Points)
	assert.Equal(t, 90, res.Policies)
	assert.Equal(t, 5, res.Folds)

	for _, c := range res.Candidates {
		if c.GridPoints == 40 {
			assert.True(t, c.Disqualified, "39 segments cannot reach the minimum policy count")
			assert.Contains(t, c.Reason, "insufficient data")
			continue
		}
		require.False(t, c.Disqualified, c.Reason)
		want := c.MSE * (1 + float64(c.Segments())/90)
		assert.InDelta(t, want, c.Criterion, 1e-15)
	}

	assert.Equal(t, res.Chosen.CVError, res.Gap, "unknown lower bound leaves the full error as gap")
	assert.Zero(t, res.Ratio)
	assert.Equal(t, 4, res.Complexity().GridPoints)
	assert.Equal(t, "lob", res.Complexity().Grid)

	g, err := res.Grid()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1e6, 5e6, 10e6}, g.Points())
}

// towerPortfolio holds standard towers, each layer covering exactly one LOB
// segment: 1M xs 0 at 8%, 4M xs 1M at 4%, 5M xs 5M at 2%, with up to 4% noise
func towerPortfolio() []model.Policy {
	towers := []struct{ attach, limit, rate float64 }{
		{0, 1e6, 0.08},
		{1e6, 4e6, 0.04},
		{5e6, 5e6, 0.02},
	}
	var out []model.Policy
	for ti, tw := range towers {
		for k := 0; k < 40; k++ {
			noise := 1 + 0.02*float64(k%5-2)
			out = append(out, model.Policy{
				ID:         fmt.Sprintf("t%d-%02d", ti, k),
				Attachment: tw.attach,
				Limit:      tw.limit,
				Premium:    tw.rate * noise * tw.limit,
				Exposure:   tw.limit,
				Size:       1e6,
				Industry:   "retail",
			})
		}
	}
	return out
}

func TestSelectRecoversTowersOnLOBGrid(t *testing.T) {
	cfg := testConfig(t)
	cfg.GridCounts = []int{3, 6, 8}
	cfg.AnchorStrengths = []float64{0, 1, 10}

	res, err := NewSelector(cfg).Select(context.Background(), towerPortfolio())
	require.NoError(t, err)

	assert.Equal(t, GridLOB, res.Chosen.Grid)
	assert.Equal(t, []float64{0, 1e6, 5e6, 10e6}, res.Chosen.Points)
	assert.Less(t, res.Chosen.CVError, 0.003, "towers matching the LOB segments leave only the noise")

	for _, c := range res.Candidates {
		if c.Grid == GridLOB {
			assert.False(t, c.Disqualified, c.Reason)
		}
		if c.Grid == GridSpaced && c.GridPoints == 3 && !c.Disqualified {
			assert.Greater(t, c.CVError, res.Chosen.CVError,
				"[0, 5M, 10M] splits no tower boundary at 1M")
		}
	}
}

func TestCandidateGrids(t *testing.T) {
	cfg := testConfig(t)
	cfg.GridCounts = []int{2, 4, 4}
	grids, err := NewSelector(cfg).candidateGrids()
	require.NoError(t, err)

	require.Len(t, grids, 4, "the repeated count is skipped")
	assert.Equal(t, GridLOB, grids[0].kind)
	assert.Equal(t, []float64{0, 1e6, 5e6, 10e6}, grids[0].points)
	assert.Equal(t, GridRefined, grids[1].kind)
	assert.Equal(t, []float64{0, 0.5e6, 1e6, 3e6, 5e6, 7.5e6, 10e6}, grids[1].points)
	assert.Equal(t, []float64{0, 10e6}, grids[2].points)
	assert.InDeltaSlice(t, []float64{0, 10e6 / 3, 20e6 / 3, 10e6}, grids[3].points, 1e-6)

	for _, cg := range grids {
		assert.Equal(t, 0.0, cg.points[0], "every grid starts at the LOB minimum")
		assert.Equal(t, 10e6, cg.points[len(cg.points)-1], "every grid ends at the LOB maximum")
	}
}

func TestCandidateGridsLogSpacing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Spacing = grid.SpacingLogUniform
	cfg.GridCounts = []int{4}
	grids, err := NewSelector(cfg).candidateGrids()
	require.NoError(t, err)

	spaced := grids[len(grids)-1]
	assert.Equal(t, GridSpaced, spaced.kind)
	require.Len(t, spaced.points, 4)
	assert.Equal(t, 0.0, spaced.points[0])
	assert.Equal(t, 1e6, spaced.points[1])
	assert.InDelta(t, math.Sqrt(1e6*10e6), spaced.points[2], 1)
	assert.Equal(t, 10e6, spaced.points[3])
}

func TestSelectNeedsLOBGrid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Base = nil
	_, err := NewSelector(cfg).Select(context.Background(), stepPortfolio())
	var invalid *model.InvalidGridError
	assert.True(t, errors.As(err, &invalid), "got %v", err)
}

func TestConfigFromRejectsQuantile(t *testing.T) {
	sc := model.DefaultConfig().Selection
	sc.Spacing = "quantile"
	_, err := ConfigFrom(sc, estimate.DefaultConfig())
	var invalid *model.InvalidGridError
	assert.True(t, errors.As(err, &invalid), "got %v", err)

	sc.Spacing = "uniform"
	_, err = ConfigFrom(sc, estimate.DefaultConfig())
	assert.NoError(t, err)
}

func TestSelectDeterministic(t *testing.T) {
	policies := stepPortfolio()
	a, err := NewSelector(testConfig(t)).Select(context.Background(), policies)
	require.NoError(t, err)

	reversed := make([]model.Policy, len(policies))
	for i, p := range policies {
		reversed[len(policies)-1-i] = p
	}
	b, err := NewSelector(testConfig(t)).Select(context.Background(), reversed)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSelectLowerBound(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fit.LowerBound = 0.0001
	res, err := NewSelector(cfg).Select(context.Background(), stepPortfolio())
	require.NoError(t, err)
	assert.InDelta(t, res.Chosen.CVError-0.0001, res.Gap, 1e-15)
	assert.InDelta(t, res.Chosen.CVError/0.0001, res.Ratio, 1e-9)
}

func TestSelectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSelector(testConfig(t)).Select(ctx, stepPortfolio())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSelectAllDisqualified(t *testing.T) {
	points := make([]float64, 40)
	for i := range points {
		points[i] = float64(i) * 10e6 / 39
	}
	cfg := testConfig(t)
	cfg.Base = lobGrid(t, points...)
	cfg.GridCounts = []int{40}
	_, err := NewSelector(cfg).Select(context.Background(), stepPortfolio())
	var insufficient *model.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient), "got %v", err)
}

func TestSelectNeedsTwoFolds(t *testing.T) {
	_, err := NewSelector(testConfig(t)).Select(context.Background(), stepPortfolio()[:1])
	assert.Error(t, err)
}

func TestChooseTieBreak(t *testing.T) {
	score := func(gp int, strength, crit float64) CandidateScore {
		return CandidateScore{Candidate: Candidate{GridPoints: gp, AnchorStrength: strength}, Criterion: crit}
	}

	tests := []struct {
		name   string
		scores []CandidateScore
		want   Candidate
	}{
		{
			name:   "lowest criterion wins outside tolerance",
			scores: []CandidateScore{score(3, 1, 2.0), score(6, 1, 1.0)},
			want:   Candidate{GridPoints: 6, AnchorStrength: 1},
		},
		{
			name:   "tie prefers fewer segments",
			scores: []CandidateScore{score(6, 1, 1.0), score(3, 1, 1.005)},
			want:   Candidate{GridPoints: 3, AnchorStrength: 1},
		},
		{
			name:   "then stronger anchor",
			scores: []CandidateScore{score(4, 0, 1.0), score(4, 10, 1.004), score(4, 1, 1.0)},
			want:   Candidate{GridPoints: 4, AnchorStrength: 10},
		},
		{
			name: "then the LOB grid",
			scores: []CandidateScore{
				{Candidate: Candidate{Grid: GridSpaced, GridPoints: 4, AnchorStrength: 1}, Criterion: 1.0},
				{Candidate: Candidate{Grid: GridLOB, GridPoints: 4, AnchorStrength: 1}, Criterion: 1.006},
			},
			want: Candidate{Grid: GridLOB, GridPoints: 4, AnchorStrength: 1},
		},
		{
			name: "disqualified ignored",
			scores: []CandidateScore{
				{Candidate: Candidate{GridPoints: 3}, Disqualified: true},
				score(8, 0, 5),
			},
			want: Candidate{GridPoints: 8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := choose(tt.scores, 0.01)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Candidate)
		})
	}

	_, ok := choose([]CandidateScore{{Disqualified: true}}, 0.01)
	assert.False(t, ok)
}

func TestAssignFolds(t *testing.T) {
	a := assignFolds(23, 5, 7)
	b := assignFolds(23, 5, 7)
	assert.Equal(t, a, b)

	counts := make([]int, 5)
	for _, f := range a {
		counts[f]++
	}
	for _, c := range counts {
		assert.GreaterOrEqual(t, c, 4)
		assert.LessOrEqual(t, c, 5)
	}
}
