package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinner_Label(t *testing.T) {
	b, err := NewBinner([]float64{0, 1e6, 1e7, 1e9}, []string{"small", "mid", "large"})
	require.NoError(t, err)

	tests := []struct {
		value float64
		label string
		ok    bool
	}{
		{0, "", false}, // first edge is excluded
		{1, "small", true},
		{1e6, "small", true}, // right edge is included
		{1e6 + 1, "mid", true},
		{1e9, "large", true},
		{1e9 + 1, "", false},
		{-5, "", false},
		{math.NaN(), "", false},
	}

	for _, tt := range tests {
		label, ok := b.Label(tt.value)
		assert.Equal(t, tt.label, label, "Label(%v)", tt.value)
		assert.Equal(t, tt.ok, ok, "Label(%v)", tt.value)
	}
}

func TestNewBinner_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		edges  []float64
		labels []string
	}{
		{"too few edges", []float64{1}, nil},
		{"label count", []float64{0, 1, 2}, []string{"a"}},
		{"not increasing", []float64{0, 2, 2}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		_, err := NewBinner(tt.edges, tt.labels)
		assert.Error(t, err, tt.name)
	}
}
