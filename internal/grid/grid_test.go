package grid

import (
	"errors"
	"testing"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_StrictlyIncreasingWithRequestedLength(t *testing.T) {
	observed := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		observed = append(observed, float64(i*i)*250)
	}

	cases := []struct {
		name    string
		min     float64
		max     float64
		n       int
		spacing Spacing
	}{
		{"uniform", 0, 10e6, 4, SpacingUniform},
		{"uniform two points", 0, 1, 2, SpacingUniform},
		{"log uniform", 1e5, 100e6, 7, SpacingLogUniform},
		{"quantile", 0, 199 * 199 * 250, 6, SpacingQuantile},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := Build(tc.min, tc.max, tc.n, tc.spacing, observed)
			require.NoError(t, err)

			pts := g.Points()
			assert.Len(t, pts, tc.n)
			assert.Equal(t, tc.min, pts[0])
			assert.Equal(t, tc.max, pts[len(pts)-1])
			for i := 1; i < len(pts); i++ {
				assert.Greater(t, pts[i], pts[i-1], "point %d", i)
			}
		})
	}
}

func TestBuild_InvalidConfigs(t *testing.T) {
	cases := []struct {
		name     string
		min, max float64
		n        int
		spacing  Spacing
		observed []float64
	}{
		{"too few points", 0, 10, 1, SpacingUniform, nil},
		{"degenerate range", 5, 5, 3, SpacingUniform, nil},
		{"inverted range", 10, 5, 3, SpacingUniform, nil},
		{"log with zero min", 0, 10, 3, SpacingLogUniform, nil},
		{"quantile without data", 0, 10, 3, SpacingQuantile, nil},
		{"quantile collapses on ties", 0, 10, 5, SpacingQuantile, []float64{5, 5, 5, 5}},
		{"unknown spacing", 0, 10, 3, Spacing("cubic"), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.min, tc.max, tc.n, tc.spacing, tc.observed)
			var gridErr *model.InvalidGridError
			require.Error(t, err)
			assert.True(t, errors.As(err, &gridErr), "expected InvalidGridError, got %T", err)
		})
	}
}

func TestNew_RejectsUnorderedPoints(t *testing.T) {
	_, err := New([]float64{0, 5, 5, 10})
	var gridErr *model.InvalidGridError
	assert.ErrorAs(t, err, &gridErr)

	g, err := New([]float64{0, 1e6, 5e6, 10e6})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Segments())
}

func TestLocate(t *testing.T) {
	g, err := New([]float64{0, 1e6, 5e6, 10e6})
	require.NoError(t, err)

	assert.Equal(t, 0, g.Locate(-5))
	assert.Equal(t, 0, g.Locate(0))
	assert.Equal(t, 0, g.Locate(999_999))
	assert.Equal(t, 1, g.Locate(1e6))
	assert.Equal(t, 2, g.Locate(7e6))
	assert.Equal(t, 2, g.Locate(10e6))
	assert.Equal(t, 2, g.Locate(50e6))
}

func TestOverlaps(t *testing.T) {
	g, err := New([]float64{0, 1e6, 5e6, 10e6})
	require.NoError(t, err)

	cov := g.Overlaps(0, 2e6)
	require.Len(t, cov.Inside, 2)
	assert.Equal(t, Overlap{Segment: 0, Lo: 0, Hi: 1e6}, cov.Inside[0])
	assert.Equal(t, Overlap{Segment: 1, Lo: 1e6, Hi: 2e6}, cov.Inside[1])
	assert.False(t, cov.Extrapolated())

	cov = g.Overlaps(8e6, 12e6)
	require.Len(t, cov.Inside, 1)
	assert.InDelta(t, 2e6, cov.Above, 1e-9)
	assert.True(t, cov.Extrapolated())

	cov = g.Overlaps(20e6, 30e6)
	assert.Empty(t, cov.Inside)
	assert.InDelta(t, 10e6, cov.Above, 1e-9)
}

func TestPosition(t *testing.T) {
	g, err := New([]float64{0, 1e6, 5e6})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, g.Position(0, 5e5), 1e-12)
	assert.InDelta(t, 0.25, g.Position(1, 2e6), 1e-12)
	assert.Equal(t, 1.0, g.Position(1, 9e6))
	assert.Equal(t, 0.0, g.Position(1, 0))
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig(model.GridConfig{Points: []float64{0, 1, 2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, g.Points())

	g, err = FromConfig(model.GridConfig{Min: 0, Max: 9, Count: 4, Spacing: "uniform"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3, 6, 9}, g.Points())

	_, err = FromConfig(model.GridConfig{Min: 0, Max: 9, Count: 4, Spacing: "bogus"}, nil)
	assert.Error(t, err)
}
