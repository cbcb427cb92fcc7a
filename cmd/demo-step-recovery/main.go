// Demo program: fits a synthetic step-rate portfolio and shows how closely the
// curve recovers the true rates and how a straddling layer is blended
package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/ppiankov/rolcurve/internal/estimate"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

func main() {
	fmt.Println("=== Step Rate Recovery Demo ===")
	fmt.Println()

	bands := []struct{ lo, hi, rate float64 }{
		{0, 1e6, 0.08},
		{1e6, 5e6, 0.04},
		{5e6, 10e6, 0.02},
	}

	rng := rand.New(rand.NewPCG(7, 11))
	var policies []model.Policy
	for si, b := range bands {
		for k := 0; k < 40; k++ {
			mid := b.lo + (b.hi-b.lo)*rng.Float64()
			limit := math.Min(0.02*(b.hi-b.lo), 2*mid)
			if limit <= 0 {
				continue
			}
			noise := 1 + 0.05*rng.NormFloat64()
			policies = append(policies, model.Policy{
				ID:         fmt.Sprintf("demo-%d-%02d", si, k),
				Client:     "demo",
				LOB:        "d&o",
				Attachment: mid - limit/2,
				Limit:      limit,
				Industry:   "retail",
				Size:       1,
				Premium:    b.rate * limit * noise,
				Exposure:   limit,
			})
		}
	}

	cfg := model.DefaultConfig()
	fitCfg, err := estimate.ConfigFrom(cfg.Fit)
	if err != nil {
		fail(err)
	}
	g, err := grid.New([]float64{0, 1e6, 5e6, 10e6})
	if err != nil {
		fail(err)
	}
	rc, err := estimate.NewEstimator(fitCfg).Fit(model.GroupKey{Client: "demo", LOB: "d&o"}, policies, g)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Policies: %d (5%% premium noise)\n\n", len(policies))
	fmt.Printf("%-14s %8s %8s %8s\n", "Segment", "True", "Fitted", "Error")
	fmt.Println(strings.Repeat("-", 42))
	for i, b := range bands {
		got := rc.SegmentRate(i)
		fmt.Printf("%-14s %8s %8s %7.2fpp\n",
			pipeline.Amount(b.lo)+" – "+pipeline.Amount(b.hi),
			pipeline.Percent(b.rate), pipeline.Percent(got), (got-b.rate)*100)
	}

	q, err := pricing.New(rc, model.BaseLimit).Predict(0, 2e6, "retail", 1)
	if err != nil {
		fail(err)
	}
	fmt.Println()
	fmt.Printf("Layer 0 – 2M straddles two segments: rate %s (between %s and %s)\n",
		pipeline.Percent(q.Rate), pipeline.Percent(rc.SegmentRate(1)), pipeline.Percent(rc.SegmentRate(0)))
	for _, c := range q.Segments {
		fmt.Printf("  segment %d weight %.2f\n", c.Segment, c.Weight)
	}

	fmt.Println()
	fmt.Println("=== Demo Complete ===")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
