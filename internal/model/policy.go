package model

import (
	"fmt"
	"math"
)

// Policy is one policy-term of a client's historical portfolio
type Policy struct {
	ID         string  `json:"id"`
	Client     string  `json:"client"`
	LOB        string  `json:"lob"`
	Country    string  `json:"country,omitempty"` // ISO2, normalized upstream
	Attachment float64 `json:"attachment"`        // Layer start (>= 0)
	Limit      float64 `json:"limit"`             // Layer width (> 0)
	Industry   string  `json:"industry"`
	Size       float64 `json:"size"`     // Insured size, e.g. revenue
	Premium    float64 `json:"premium"`  // Observed premium (> 0)
	Exposure   float64 `json:"exposure"` // Weight / agreed exposure measure (> 0)
}

// Left returns the layer start
func (p Policy) Left() float64 { return p.Attachment }

// Right returns the layer end (exclusive)
func (p Policy) Right() float64 { return p.Attachment + p.Limit }

// Mid returns the layer midpoint, used for segment assignment
func (p Policy) Mid() float64 { return p.Attachment + p.Limit/2 }

// Base returns the exposure base premium is quoted against
func (p Policy) Base(b ExposureBase) float64 {
	if b == BaseExposure {
		return p.Exposure
	}
	return p.Limit
}

// Rate returns the observed rate on line for the given exposure base
func (p Policy) Rate(b ExposureBase) float64 {
	base := p.Base(b)
	if base <= 0 {
		return 0
	}
	return p.Premium / base
}

// Key returns the (client, LOB) group key
func (p Policy) Key() GroupKey {
	return GroupKey{Client: p.Client, LOB: p.LOB}
}

// Check verifies the numeric invariants the estimator relies on
func (p Policy) Check() error {
	switch {
	case !finite(p.Attachment) || p.Attachment < 0:
		return fmt.Errorf("policy %s: attachment must be >= 0, got %v", p.ID, p.Attachment)
	case !finite(p.Limit) || p.Limit <= 0:
		return fmt.Errorf("policy %s: limit must be > 0, got %v", p.ID, p.Limit)
	case !finite(p.Premium) || p.Premium <= 0:
		return fmt.Errorf("policy %s: premium must be > 0, got %v", p.ID, p.Premium)
	case !finite(p.Exposure) || p.Exposure <= 0:
		return fmt.Errorf("policy %s: exposure must be > 0, got %v", p.ID, p.Exposure)
	case !finite(p.Size) || p.Size <= 0:
		return fmt.Errorf("policy %s: size must be > 0, got %v", p.ID, p.Size)
	}
	return nil
}

// ExposureBase selects the denominator of the rate on line
type ExposureBase string

const (
	BaseLimit    ExposureBase = "limit"    // premium / limit
	BaseExposure ExposureBase = "exposure" // premium / agreed exposure measure
)

// GroupKey identifies one independent fit
type GroupKey struct {
	Client string `json:"client"`
	LOB    string `json:"lob"`
}

func (k GroupKey) String() string {
	return k.Client + "/" + k.LOB
}

// GroupPolicies splits a batch into independent (client, LOB) portfolios
func GroupPolicies(policies []Policy) map[GroupKey][]Policy {
	groups := make(map[GroupKey][]Policy)
	for _, p := range policies {
		k := p.Key()
		groups[k] = append(groups[k], p)
	}
	return groups
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
