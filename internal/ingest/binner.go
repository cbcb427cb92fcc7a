package ingest

import (
	"fmt"
	"math"
	"sort"
)

// Binner assigns labels to values by split points. Bins are right-inclusive
// (e_i, e_{i+1}], so a value equal to the first edge, outside the edges, or NaN
// gets no label.
type Binner struct {
	edges  []float64
	labels []string
}

// NewBinner needs n+1 strictly increasing edges and n labels
func NewBinner(edges []float64, labels []string) (*Binner, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("binner needs at least 2 edges, got %d", len(edges))
	}
	if len(labels) != len(edges)-1 {
		return nil, fmt.Errorf("binner has %d edges but %d labels, want %d", len(edges), len(labels), len(edges)-1)
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return nil, fmt.Errorf("binner edges must increase strictly, got %v after %v", edges[i], edges[i-1])
		}
	}
	b := &Binner{edges: make([]float64, len(edges)), labels: make([]string, len(labels))}
	copy(b.edges, edges)
	copy(b.labels, labels)
	return b, nil
}

// Label returns the bin label for v
func (b *Binner) Label(v float64) (string, bool) {
	if math.IsNaN(v) || v <= b.edges[0] || v > b.edges[len(b.edges)-1] {
		return "", false
	}
	// first edge >= v closes the bin
	i := sort.SearchFloat64s(b.edges, v)
	return b.labels[i-1], true
}

// Labels returns the configured labels in bin order
func (b *Binner) Labels() []string {
	out := make([]string, len(b.labels))
	copy(out, b.labels)
	return out
}
