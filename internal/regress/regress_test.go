package regress

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearObs(n int, left, right float64) []Observation {
	obs := make([]Observation, n)
	for i := range obs {
		u := float64(i) / float64(n-1)
		obs[i] = Observation{
			ID:       fmt.Sprintf("p%02d", i),
			Rate:     left + (right-left)*u,
			Weight:   1 + float64(i%3),
			Position: u,
			Size:     1e6,
			Industry: "retail",
		}
	}
	return obs
}

func TestFitRecoversLinearSegment(t *testing.T) {
	fit, err := Fit(linearObs(20, 0.08, 0.04), nil, Penalty{Anchor: AnchorLinear, AnchorStrength: 1})
	require.NoError(t, err)

	assert.InDelta(t, 0.08, fit.LeftRate, 1e-9)
	assert.InDelta(t, 0.04, fit.RightRate, 1e-9)
	assert.InDelta(t, 0.06, fit.Rate(), 1e-9)
	assert.InDelta(t, 0, fit.ResidualStd, 1e-9)
	assert.False(t, fit.Anchored, "first segment has no anchor")
	assert.Equal(t, 20, fit.N)
	assert.Equal(t, []string{"intercept", "position"}, fit.Names, "constant size and industry are dropped")
	assert.Len(t, fit.Residuals, 20)
}

func TestFitDegenerate(t *testing.T) {
	tests := []struct {
		name string
		obs  []Observation
	}{
		{"empty", nil},
		{"zero weight", []Observation{{ID: "a", Rate: 0.05, Weight: 0, Position: 0.5, Size: 1, Industry: "x"}}},
		{"too few observations", []Observation{
			{ID: "a", Rate: 0.05, Weight: 1, Position: 0.1, Size: 1e6, Industry: "x"},
			{ID: "b", Rate: 0.04, Weight: 1, Position: 0.9, Size: 2e6, Industry: "y"},
		}},
		{"collinear position and industry", []Observation{
			{ID: "a", Rate: 0.05, Weight: 1, Position: 0, Size: 1e6, Industry: "x"},
			{ID: "b", Rate: 0.05, Weight: 1, Position: 0, Size: 1e6, Industry: "x"},
			{ID: "c", Rate: 0.04, Weight: 1, Position: 1, Size: 1e6, Industry: "y"},
			{ID: "d", Rate: 0.04, Weight: 1, Position: 1, Size: 1e6, Industry: "y"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.obs, nil, Penalty{Anchor: AnchorNone})
			var degenerate *model.DegenerateFitError
			require.Error(t, err)
			assert.True(t, errors.As(err, &degenerate), "got %T: %v", err, err)
		})
	}
}

func TestFitAnchorPullsLeftEdge(t *testing.T) {
	obs := linearObs(20, 0.05, 0.05)
	anchor := 0.06

	loose, err := Fit(obs, &anchor, Penalty{Anchor: AnchorLinear, AnchorStrength: 0.001})
	require.NoError(t, err)
	tight, err := Fit(obs, &anchor, Penalty{Anchor: AnchorLinear, AnchorStrength: 1e6})
	require.NoError(t, err)

	assert.InDelta(t, 0.05, loose.LeftRate, 1e-4)
	assert.InDelta(t, 0.06, tight.LeftRate, 1e-4)
	assert.True(t, tight.Anchored)
}

func TestFitMonotoneAnchorIsOneSided(t *testing.T) {
	obs := linearObs(20, 0.05, 0.05)
	pen := Penalty{Anchor: AnchorMonotone, AnchorStrength: 1e6}

	above := 0.10
	fit, err := Fit(obs, &above, pen)
	require.NoError(t, err)
	assert.False(t, fit.Anchored, "segment already starts below its predecessor")
	assert.InDelta(t, 0.05, fit.LeftRate, 1e-9)

	below := 0.03
	fit, err = Fit(obs, &below, pen)
	require.NoError(t, err)
	assert.True(t, fit.Anchored)
	assert.InDelta(t, 0.03, fit.LeftRate, 1e-4)
}

func TestFitAnchorNone(t *testing.T) {
	anchor := 0.5
	fit, err := Fit(linearObs(12, 0.05, 0.03), &anchor, Penalty{Anchor: AnchorNone, AnchorStrength: 100})
	require.NoError(t, err)
	assert.False(t, fit.Anchored)
	assert.InDelta(t, 0.05, fit.LeftRate, 1e-9)
}

func TestFitIndustryAndSizeEffects(t *testing.T) {
	var obs []Observation
	for i := 0; i < 40; i++ {
		u := float64(i%10) / 9
		industry := "retail"
		if i%2 == 1 {
			industry = "tech"
		}
		size := 1e6 * float64(1+i%4)
		rate := 0.06 - 0.02*u
		if industry == "tech" {
			rate += 0.01
		}
		obs = append(obs, Observation{
			ID:       fmt.Sprintf("p%02d", i),
			Rate:     rate,
			Weight:   1,
			Position: u,
			Size:     size,
			Industry: industry,
		})
	}

	fit, err := Fit(obs, nil, Penalty{Anchor: AnchorNone})
	require.NoError(t, err)

	assert.InDelta(t, 0.01, fit.IndustryEffects["tech"]-fit.IndustryEffects["retail"], 1e-9)
	// Half the book is tech, so effects are centred around zero
	assert.InDelta(t, 0, fit.IndustryEffects["tech"]+fit.IndustryEffects["retail"], 1e-9)
	assert.InDelta(t, 0, fit.SizeCoef, 1e-9)
	assert.Greater(t, fit.SizeCenter, 0.0)
	// Left edge is the portfolio average: base 0.06 plus half the tech loading
	assert.InDelta(t, 0.065, fit.LeftRate, 1e-9)
	assert.InDelta(t, 0.045, fit.RightRate, 1e-9)
}

func TestFitRidgeShrinksSlope(t *testing.T) {
	obs := linearObs(20, 0.08, 0.04)

	free, err := Fit(obs, nil, Penalty{Anchor: AnchorNone})
	require.NoError(t, err)
	shrunk, err := Fit(obs, nil, Penalty{Anchor: AnchorNone, Ridge: 1000})
	require.NoError(t, err)

	assert.Less(t, shrunk.LeftRate-shrunk.RightRate, free.LeftRate-free.RightRate)
	assert.Greater(t, shrunk.ResidualStd, free.ResidualStd)
}

func TestParseAnchor(t *testing.T) {
	for in, want := range map[string]AnchorKind{"": AnchorLinear, "ridge": AnchorLinear, "monotone": AnchorMonotone, "none": AnchorNone} {
		got, err := ParseAnchor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAnchor("quadratic")
	assert.Error(t, err)
}
