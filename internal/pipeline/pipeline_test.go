package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/rolcurve/internal/cache"
	"github.com/ppiankov/rolcurve/internal/metrics"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/selection"
	"github.com/ppiankov/rolcurve/internal/store"
)

var testBands = []struct {
	lo, hi, rate float64
}{
	{0, 1e6, 0.08},
	{1e6, 5e6, 0.04},
	{5e6, 10e6, 0.02},
}

// portfolio builds perSeg policies per band with a +-1% premium wobble
func portfolio(client, lob string, perSeg int) []model.Policy {
	var out []model.Policy
	for si, b := range testBands {
		for k := 0; k < perSeg; k++ {
			mid := b.lo + (b.hi-b.lo)*(float64(k)+0.5)/float64(perSeg)
			limit := math.Min(0.02*(b.hi-b.lo), 2*mid)
			wobble := 1.01
			if k%2 == 1 {
				wobble = 0.99
			}
			industry := "retail"
			if k%3 == 0 {
				industry = "tech"
			}
			out = append(out, model.Policy{
				ID:         fmt.Sprintf("%s-%s-%d-%03d", client, lob, si, k),
				Client:     client,
				LOB:        lob,
				Attachment: mid - limit/2,
				Limit:      limit,
				Industry:   industry,
				Size:       1e6 * float64(1+k%5),
				Premium:    b.rate * limit * wobble,
				Exposure:   limit,
			})
		}
	}
	return out
}

func policyCSV(policies []model.Policy) string {
	var b strings.Builder
	b.WriteString("id,client,lob,attachment,limit,industry,size,premium\n")
	for _, p := range policies {
		fmt.Fprintf(&b, "%s,%s,%s,%.6f,%.6f,%s,%.0f,%.6f\n",
			p.ID, p.Client, p.LOB, p.Attachment, p.Limit, p.Industry, p.Size, p.Premium)
	}
	return b.String()
}

func testConfig(t *testing.T) *model.Config {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Grids = map[string]model.GridConfig{
		"default": {Points: []float64{0, 1e6, 5e6, 10e6}},
	}
	cfg.Cache.Enabled = false
	cfg.Concurrency.Workers = 2
	return cfg
}

func writeTable(t *testing.T, policies []model.Policy) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.csv")
	require.NoError(t, os.WriteFile(path, []byte(policyCSV(policies)), 0644))
	return path
}

func TestPipeline_LoadFitAnalyzeRender(t *testing.T) {
	p, err := NewPipeline(testConfig(t))
	require.NoError(t, err)

	policies := append(portfolio("acme", "do", 30), portfolio("acme", "pi", 20)...)
	in, err := p.LoadFile(writeTable(t, policies))
	require.NoError(t, err)
	assert.True(t, in.Validation.Passed)
	require.Len(t, in.Policies, 150)

	results := p.FitAll(context.Background(), model.GroupPolicies(in.Policies))
	require.Len(t, results, 2)
	assert.Equal(t, "acme/do", results[0].Key.String())
	assert.Equal(t, "acme/pi", results[1].Key.String())

	for _, r := range results {
		require.NoError(t, r.Error, "fit %s", r.Key)
		for i, b := range testBands {
			assert.InDelta(t, b.rate, r.Curve.SegmentRate(i), 0.01, "%s segment %d", r.Key, i)
		}
	}

	groups := model.GroupPolicies(in.Policies)
	rc := results[0].Curve
	report, err := p.Analyze(rc, groups[results[0].Key])
	require.NoError(t, err)
	assert.Equal(t, "acme", report.Client)
	assert.NotEmpty(t, report.RunID)
	for _, o := range report.Outliers {
		assert.True(t, o.Flagged)
	}
	assert.Greater(t, report.Score.Index, 50)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out", "acme-do.json")
	mdPath := filepath.Join(dir, "out", "acme-do.md")
	require.NoError(t, p.RenderReport(report, jsonPath, mdPath, false))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Len(t, decoded.Curve.Segments, 3)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# ROL curve: acme / do")
	assert.Contains(t, string(md), "| 1 | 1M – 5M |")
	assert.Contains(t, string(md), "## Outliers")

	got, err := p.Curve(context.Background(), model.GroupKey{Client: "acme", LOB: "do"})
	require.NoError(t, err)
	assert.Same(t, rc, got)
}

func TestPipeline_CacheHit(t *testing.T) {
	m := metrics.NewRegistry(nil)
	p, err := NewPipeline(testConfig(t),
		WithCache(cache.NewMemoryCache(time.Hour, time.Hour)),
		WithMetrics(m))
	require.NoError(t, err)

	key := model.GroupKey{Client: "acme", LOB: "do"}
	policies := portfolio("acme", "do", 20)

	first, err := p.FitGroup(context.Background(), key, policies)
	require.NoError(t, err)

	// Reordered input is the same portfolio
	reversed := make([]model.Policy, len(policies))
	for i := range policies {
		reversed[len(policies)-1-i] = policies[i]
	}
	second, err := p.FitGroup(context.Background(), key, reversed)
	require.NoError(t, err)

	assert.True(t, first.FittedAt.Equal(second.FittedAt), "second fit served from cache")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("curve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("curve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fits.WithLabelValues("do", "ok")))

	policies[0].Premium *= 2
	_, err = p.FitGroup(context.Background(), key, policies)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("curve")), "changed premium misses")
}

func TestPipeline_StoreBacksCurveLookup(t *testing.T) {
	st, err := store.Open(model.StoreConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	defer st.Close()

	key := model.GroupKey{Client: "acme", LOB: "do"}
	writer, err := NewPipeline(testConfig(t), WithStore(st))
	require.NoError(t, err)
	_, err = writer.FitGroup(context.Background(), key, portfolio("acme", "do", 20))
	require.NoError(t, err)

	// A second process finds the curve in the store
	reader, err := NewPipeline(testConfig(t), WithStore(st))
	require.NoError(t, err)
	rc, err := reader.Curve(context.Background(), key)
	require.NoError(t, err)
	assert.InDelta(t, 0.04, rc.SegmentRate(1), 0.01)

	_, err = reader.Curve(context.Background(), model.GroupKey{Client: "acme", LOB: "cyber"})
	assert.True(t, errors.Is(err, ErrCurveNotFound))
}

func TestPipeline_FitGroupErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Grids = map[string]model.GridConfig{"do": {Points: []float64{0, 1e6, 5e6, 10e6}}}
	m := metrics.NewRegistry(nil)
	p, err := NewPipeline(cfg, WithMetrics(m))
	require.NoError(t, err)

	_, err = p.FitGroup(context.Background(), model.GroupKey{Client: "acme", LOB: "pi"}, portfolio("acme", "pi", 20))
	assert.ErrorContains(t, err, "no grid configured")

	_, err = p.FitGroup(context.Background(), model.GroupKey{Client: "acme", LOB: "do"}, portfolio("acme", "do", 2))
	var insufficient *model.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fits.WithLabelValues("pi", "error"))+testutil.ToFloat64(m.Fits.WithLabelValues("do", "error")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.FitGroup(ctx, model.GroupKey{Client: "acme", LOB: "do"}, portfolio("acme", "do", 20))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_ValidationFails(t *testing.T) {
	p, err := NewPipeline(testConfig(t))
	require.NoError(t, err)

	policies := portfolio("acme", "do", 10)
	for i := 0; i < 5; i++ {
		policies[i].Client = ""
	}
	in, err := p.LoadFile(writeTable(t, policies))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	require.NotNil(t, in)
	assert.False(t, in.Validation.Passed)
	assert.Len(t, in.Policies, 25)
}

func TestPipeline_SelectGroup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.Folds = 3
	cfg.Selection.GridCounts = []int{3, 4}
	cfg.Selection.AnchorStrengths = []float64{1}
	cfg.Selection.Spacing = "uniform"
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	key := model.GroupKey{Client: "acme", LOB: "do"}
	res, rc, err := p.SelectGroup(context.Background(), key, portfolio("acme", "do", 30))
	require.NoError(t, err)
	require.NotNil(t, rc)
	// the LOB grid, its refinement and the two spaced grids
	require.Len(t, res.Candidates, 4)
	assert.Equal(t, selection.GridLOB, res.Candidates[0].Grid)
	assert.Equal(t, []float64{0, 1e6, 5e6, 10e6}, res.Candidates[0].Points)
	require.NotNil(t, rc.Diagnostics.Complexity)
	assert.Equal(t, res.Chosen.GridPoints, rc.Diagnostics.Complexity.GridPoints)
	assert.Equal(t, string(res.Chosen.Grid), rc.Diagnostics.Complexity.Grid)
	assert.Equal(t, res.Chosen.Points, rc.Splits)
	assert.Len(t, rc.Segments, res.Chosen.GridPoints-1)

	got, err := p.Curve(context.Background(), key)
	require.NoError(t, err)
	assert.Same(t, rc, got)
}

func TestPipeline_LoadURL(t *testing.T) {
	body := policyCSV(portfolio("acme", "do", 10))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = fmt.Fprint(w, body)
	}))
	defer server.Close()

	p, err := NewPipeline(testConfig(t))
	require.NoError(t, err)

	in, err := p.LoadURL(context.Background(), server.URL+"/export")
	require.NoError(t, err)
	assert.Len(t, in.Policies, 30)
	assert.Equal(t, server.URL+"/export", in.Batch.Source)
}
