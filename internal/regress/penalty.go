package regress

import (
	"fmt"
	"strings"
)

// AnchorKind selects how a segment's left-edge rate is tied to the previous segment
type AnchorKind string

const (
	// AnchorLinear adds strength * (left_rate - anchor)^2 to the loss
	AnchorLinear AnchorKind = "linear"
	// AnchorMonotone adds the same term only when the free fit would start above the anchor
	AnchorMonotone AnchorKind = "monotone"
	// AnchorNone fits each segment independently
	AnchorNone AnchorKind = "none"
)

// ParseAnchor converts a config string into an AnchorKind
func ParseAnchor(s string) (AnchorKind, error) {
	switch AnchorKind(strings.ToLower(strings.TrimSpace(s))) {
	case AnchorLinear, "", "ridge":
		return AnchorLinear, nil
	case AnchorMonotone:
		return AnchorMonotone, nil
	case AnchorNone:
		return AnchorNone, nil
	}
	return "", fmt.Errorf("unknown anchor penalty %q", s)
}

// Penalty is the regularization policy for one segment fit.
// Strengths are in policy-equivalents because weights are normalised to mean 1.
type Penalty struct {
	Anchor         AnchorKind `json:"anchor"`
	AnchorStrength float64    `json:"anchor_strength"`
	Ridge          float64    `json:"ridge"` // Shrinks every non-intercept coefficient toward 0
}

// active reports whether the anchor term applies at all
func (p Penalty) active() bool {
	return p.Anchor != AnchorNone && p.AnchorStrength > 0
}
