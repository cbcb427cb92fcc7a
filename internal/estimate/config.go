package estimate

import (
	"fmt"
	"strings"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/regress"
)

// Shape is the monotonicity prior checked after a fit
type Shape string

const (
	ShapeDecreasing Shape = "decreasing"
	ShapeNone       Shape = "none"
)

// Config controls one bootstrap run
type Config struct {
	MinPolicies       int
	Penalty           regress.Penalty
	Shape             Shape
	MonotoneTolerance float64
	MaxEscalations    int
	EscalationFactor  float64
	Interpolation     curve.Interpolation
	Extrapolation     curve.Extrapolation
	ExposureBase      model.ExposureBase
	BandZ             float64
	LowerBound        float64
}

// DefaultConfig mirrors model.DefaultConfig().Fit
func DefaultConfig() Config {
	cfg, err := ConfigFrom(model.DefaultConfig().Fit)
	if err != nil {
		panic(err) // built-in defaults always parse
	}
	return cfg
}

// ConfigFrom converts the file/env configuration into estimator settings
func ConfigFrom(fc model.FitConfig) (Config, error) {
	anchor, err := regress.ParseAnchor(fc.Anchor)
	if err != nil {
		return Config{}, err
	}
	interp, err := curve.ParseInterpolation(fc.Interpolation)
	if err != nil {
		return Config{}, err
	}
	extrap, err := curve.ParseExtrapolation(fc.Extrapolation)
	if err != nil {
		return Config{}, err
	}

	var shape Shape
	switch Shape(strings.ToLower(fc.Shape)) {
	case ShapeDecreasing, "":
		shape = ShapeDecreasing
	case ShapeNone:
		shape = ShapeNone
	default:
		return Config{}, fmt.Errorf("unknown shape prior %q", fc.Shape)
	}

	var base model.ExposureBase
	switch model.ExposureBase(strings.ToLower(fc.ExposureBase)) {
	case model.BaseLimit, "":
		base = model.BaseLimit
	case model.BaseExposure:
		base = model.BaseExposure
	default:
		return Config{}, fmt.Errorf("unknown exposure base %q", fc.ExposureBase)
	}

	if fc.AnchorStrength < 0 || fc.Ridge < 0 {
		return Config{}, fmt.Errorf("penalty strengths must be >= 0")
	}

	cfg := Config{
		MinPolicies: fc.MinPolicies,
		Penalty: regress.Penalty{
			Anchor:         anchor,
			AnchorStrength: fc.AnchorStrength,
			Ridge:          fc.Ridge,
		},
		Shape:             shape,
		MonotoneTolerance: fc.MonotoneTolerance,
		MaxEscalations:    fc.MaxEscalations,
		EscalationFactor:  fc.EscalationFactor,
		Interpolation:     interp,
		Extrapolation:     extrap,
		ExposureBase:      base,
		BandZ:             fc.BandZ,
		LowerBound:        fc.LowerBound,
	}
	if cfg.MinPolicies < 1 {
		cfg.MinPolicies = 1
	}
	if cfg.EscalationFactor <= 1 {
		cfg.EscalationFactor = 10
	}
	return cfg, nil
}
