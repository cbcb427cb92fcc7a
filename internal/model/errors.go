package model

import "fmt"

// InvalidGridError reports a bad exposure grid configuration. Fatal: fix config and retry.
type InvalidGridError struct {
	Reason string
}

func (e *InvalidGridError) Error() string {
	return "invalid exposure grid: " + e.Reason
}

// DegenerateFitError reports a segment whose design matrix cannot be solved.
// The estimator recovers from it by imputing the segment.
type DegenerateFitError struct {
	Segment int
	Reason  string
}

func (e *DegenerateFitError) Error() string {
	if e.Segment < 0 {
		return "degenerate segment fit: " + e.Reason
	}
	return fmt.Sprintf("degenerate fit for segment %d: %s", e.Segment, e.Reason)
}

// InsufficientDataError means no segment could be fitted directly, so no curve exists
type InsufficientDataError struct {
	Segments    int
	Policies    int
	MinPolicies int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: none of %d segments reached %d policies (%d policies total)",
		e.Segments, e.MinPolicies, e.Policies)
}

// NonMonotonicFitError is a non-fatal warning attached to a curve whose shape
// check still failed after all escalation rounds
type NonMonotonicFitError struct {
	Rounds    int     `json:"rounds"`
	Violation float64 `json:"violation"` // Largest remaining increase in rate
}

func (e *NonMonotonicFitError) Error() string {
	return fmt.Sprintf("curve not monotone after %d escalation rounds (max increase %.6f)", e.Rounds, e.Violation)
}
