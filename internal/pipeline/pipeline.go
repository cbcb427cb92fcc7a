// Package pipeline wires loading, validation, fitting, scoring and rendering.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ppiankov/rolcurve/internal/cache"
	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/estimate"
	"github.com/ppiankov/rolcurve/internal/grid"
	"github.com/ppiankov/rolcurve/internal/ingest"
	"github.com/ppiankov/rolcurve/internal/metrics"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/outlier"
	"github.com/ppiankov/rolcurve/internal/pricing"
	"github.com/ppiankov/rolcurve/internal/score"
	"github.com/ppiankov/rolcurve/internal/selection"
	"github.com/ppiankov/rolcurve/internal/store"
	"github.com/ppiankov/rolcurve/internal/validate"
	"github.com/ppiankov/rolcurve/internal/worker"
)

var (
	// ErrValidation is returned when a policy table fails the row rules
	ErrValidation = errors.New("validation failed")
	// ErrCurveNotFound is returned when no curve has been fitted for a key
	ErrCurveNotFound = errors.New("curve not found")
)

// Pipeline orchestrates the complete fit process
type Pipeline struct {
	config    *model.Config
	fitCfg    estimate.Config
	estimator *estimate.Estimator
	loaders   *ingest.Registry
	fetcher   *Fetcher
	validator *validate.Validator
	scorer    *score.Scorer
	renderer  *Renderer
	curves    *cache.CurveCache // nil when caching is disabled
	store     *store.Store      // nil when persistence is disabled
	metrics   *metrics.Registry // nil when metrics are disabled

	mu     sync.RWMutex
	latest map[model.GroupKey]*curve.RolCurve
}

// Option customizes a pipeline
type Option func(*Pipeline)

// WithStore persists every fitted curve
func WithStore(s *store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithMetrics records fits, caches and outliers
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCache replaces the configured curve cache; nil disables caching
func WithCache(c cache.Cache) Option {
	return func(p *Pipeline) {
		if c == nil {
			p.curves = nil
			return
		}
		p.curves = cache.NewCurveCache(c, p.config.Cache.MemoryTTL)
	}
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, opts ...Option) (*Pipeline, error) {
	fitCfg, err := estimate.ConfigFrom(cfg.Fit)
	if err != nil {
		return nil, fmt.Errorf("fit config: %w", err)
	}

	p := &Pipeline{
		config:    cfg,
		fitCfg:    fitCfg,
		estimator: estimate.NewEstimator(fitCfg),
		loaders:   ingest.NewRegistry(),
		fetcher:   NewFetcher(cfg.HTTP),
		validator: validate.NewValidator(cfg.Validation),
		scorer:    score.NewScorer(fitCfg.MinPolicies),
		renderer:  NewRenderer(),
		latest:    make(map[model.GroupKey]*curve.RolCurve),
	}

	if cfg.Cache.Enabled {
		var shared cache.Cache
		if cfg.Cache.RedisAddr != "" {
			rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisTTL)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := rc.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis unreachable, shared cache will retry per request")
			}
			cancel()
			shared = rc
		}
		layers := cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.MaxCurves, cfg.Cache.Dir, cfg.Cache.DiskTTL, shared)
		p.curves = cache.NewCurveCache(layers, cfg.Cache.MemoryTTL)
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() *model.Config { return p.config }

// Renderer returns the report renderer
func (p *Pipeline) Renderer() *Renderer { return p.renderer }

// Input is a loaded and validated policy table
type Input struct {
	Batch      *ingest.Batch
	Validation *validate.Report
	Policies   []model.Policy // Clean rows only
}

// LoadFile reads a local policy table. A failed validation returns the input
// together with an ErrValidation error so callers can show the report.
func (p *Pipeline) LoadFile(path string) (*Input, error) {
	batch, err := p.loaders.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.ValidateBatch(batch)
}

// LoadURL downloads and reads a remote policy table
func (p *Pipeline) LoadURL(ctx context.Context, rawURL string) (*Input, error) {
	res, err := p.fetcher.FetchWithRetry(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	loader, err := p.loaders.Find(res.Name)
	if err != nil {
		return nil, err
	}
	batch, err := loader.Load(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", res.FinalURL, err)
	}
	batch.Source = res.FinalURL
	return p.ValidateBatch(batch)
}

// ValidateBatch applies the row rules and keeps the clean rows
func (p *Pipeline) ValidateBatch(batch *ingest.Batch) (*Input, error) {
	report, err := p.validator.Validate(batch.Policies)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	in := &Input{Batch: batch, Validation: report, Policies: report.Clean}
	if !report.Passed {
		return in, fmt.Errorf("%w: %.1f%% of %d rows have errors", ErrValidation, report.ErrorRate()*100, report.Total)
	}
	return in, nil
}

// Grid returns the exposure grid for a LOB
func (p *Pipeline) Grid(lob string, policies []model.Policy) (*grid.Grid, error) {
	gc, ok := p.config.GridFor(lob)
	if !ok {
		return nil, fmt.Errorf("no grid configured for LOB %q and no default grid", lob)
	}
	mids := make([]float64, len(policies))
	for i, pol := range policies {
		mids[i] = pol.Mid()
	}
	return grid.FromConfig(gc, mids)
}

// FitGroup fits one portfolio, reusing a cached curve when the portfolio and
// settings are unchanged. It implements worker.Fitter.
func (p *Pipeline) FitGroup(ctx context.Context, key model.GroupKey, policies []model.Policy) (*curve.RolCurve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gc, _ := p.config.GridFor(key.LOB)
	cacheKey := ""
	if p.curves != nil {
		fp, err := cache.Fingerprint(policies, struct {
			Fit  model.FitConfig  `json:"fit"`
			Grid model.GridConfig `json:"grid"`
		}{p.config.Fit, gc})
		if err == nil {
			cacheKey = cache.CurveKey(key, fp)
			if rc, ok := p.curves.Get(cacheKey); ok {
				p.metrics.ObserveCache("curve", true)
				p.remember(key, rc)
				return rc, nil
			}
			p.metrics.ObserveCache("curve", false)
		}
	}

	start := time.Now()
	rc, err := p.Fit(key, policies)
	if err != nil {
		p.metrics.ObserveFit(key.Client, key.LOB, time.Since(start), err, 0, 0, 0, 0)
		return nil, err
	}
	p.metrics.ObserveFit(key.Client, key.LOB, time.Since(start), nil,
		rc.Diagnostics.Rounds, rc.Diagnostics.Imputed(), len(rc.Segments), rc.Diagnostics.RMSE)

	if err := p.publish(ctx, key, cacheKey, rc); err != nil {
		return nil, err
	}
	return rc, nil
}

// Fit fits policies on the LOB grid without touching the cache, the store or
// the latest curves
func (p *Pipeline) Fit(key model.GroupKey, policies []model.Policy) (*curve.RolCurve, error) {
	g, err := p.Grid(key.LOB, policies)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", key, err)
	}
	return p.estimator.Fit(key, policies, g)
}

// publish caches, persists and remembers a freshly fitted curve
func (p *Pipeline) publish(ctx context.Context, key model.GroupKey, cacheKey string, rc *curve.RolCurve) error {
	if p.curves != nil && cacheKey != "" {
		if err := p.curves.Set(cacheKey, rc); err != nil {
			log.Warn().Err(err).Str("group", key.String()).Msg("curve cache write failed")
		}
	}
	if p.store != nil {
		if _, err := p.store.Save(ctx, rc); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	p.remember(key, rc)
	return nil
}

func (p *Pipeline) remember(key model.GroupKey, rc *curve.RolCurve) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest[key] = rc
}

// Curve returns the latest curve for key, from this process or the store
func (p *Pipeline) Curve(ctx context.Context, key model.GroupKey) (*curve.RolCurve, error) {
	p.mu.RLock()
	rc, ok := p.latest[key]
	p.mu.RUnlock()
	if ok {
		return rc, nil
	}

	if p.store != nil {
		rc, err := p.store.Latest(ctx, key)
		if err != nil {
			return nil, err
		}
		if rc != nil {
			p.remember(key, rc)
			return rc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCurveNotFound, key)
}

// FitAll fits every (client, LOB) group in policies concurrently
func (p *Pipeline) FitAll(ctx context.Context, groups map[model.GroupKey][]model.Policy) []*worker.FitResult {
	total, done := len(groups), 0
	fitter := worker.NewBatchFitter(p, p.config.Concurrency.Workers, nil).
		OnProgress(func(r *worker.FitResult) {
			done++
			ev := log.Debug()
			if r.Error != nil {
				ev = log.Warn().Err(r.Error)
			}
			ev.Str("group", r.Key.String()).
				Int("done", done).
				Int("total", total).
				Dur("elapsed", r.Elapsed).
				Msg("group fitted")
		})
	return fitter.FitGroups(ctx, groups)
}

// SelectGroup sweeps grid sizes and anchor strengths, then fits the chosen combination
func (p *Pipeline) SelectGroup(ctx context.Context, key model.GroupKey, policies []model.Policy) (*selection.Result, *curve.RolCurve, error) {
	selCfg, err := selection.ConfigFrom(p.config.Selection, p.fitCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("selection config: %w", err)
	}
	selCfg.Base, err = p.Grid(key.LOB, policies)
	if err != nil {
		return nil, nil, err
	}
	res, err := selection.NewSelector(selCfg).Select(ctx, policies)
	if err != nil {
		return nil, nil, fmt.Errorf("select %s: %w", key, err)
	}

	g, err := res.Grid()
	if err != nil {
		return res, nil, fmt.Errorf("select %s: %w", key, err)
	}
	fitCfg := p.fitCfg
	fitCfg.Penalty.AnchorStrength = res.Chosen.AnchorStrength
	rc, err := estimate.NewEstimator(fitCfg).Fit(key, policies, g)
	if err != nil {
		return res, nil, err
	}
	rc.Diagnostics.Complexity = res.Complexity()

	if err := p.publish(ctx, key, "", rc); err != nil {
		return res, nil, err
	}
	return res, rc, nil
}

// Report is the complete analysis of one fitted curve
type Report struct {
	RunID       string            `json:"run_id"`
	Client      string            `json:"client"`
	LOB         string            `json:"lob"`
	Source      string            `json:"source,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
	Curve       *curve.RolCurve   `json:"curve"`
	Score       model.Score       `json:"score"`
	Outliers    []outlier.Row     `json:"outliers"` // Flagged policies only, most extreme first
	Selection   *selection.Result `json:"selection,omitempty"`
	Validation  *validate.Report  `json:"validation,omitempty"`
}

// Analyze scores a curve against the policies it was fitted on
func (p *Pipeline) Analyze(rc *curve.RolCurve, policies []model.Policy) (*Report, error) {
	base := model.ExposureBase(rc.ExposureBase)
	det := outlier.NewDetector(pricing.New(rc, base), base, p.config.Outlier.Threshold)
	flagged, err := det.Detect(policies)
	if err != nil {
		return nil, fmt.Errorf("outliers %s/%s: %w", rc.Client, rc.LOB, err)
	}
	p.metrics.ObserveOutliers(rc.LOB, len(flagged))

	return &Report{
		RunID:       uuid.NewString(),
		Client:      rc.Client,
		LOB:         rc.LOB,
		GeneratedAt: time.Now().UTC(),
		Curve:       rc,
		Score:       p.scorer.Calculate(rc, len(flagged)),
		Outliers:    flagged,
	}, nil
}

// RenderReport renders the report to the specified outputs
func (p *Pipeline) RenderReport(report *Report, jsonPath string, mdPath string, verbose bool) error {
	if jsonPath != "" {
		if err := p.renderer.RenderJSON(report, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote JSON: %s\n", jsonPath)
		}
	}

	if mdPath != "" {
		if err := p.renderer.RenderMarkdown(report, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Printf("✓ Wrote Markdown: %s\n", mdPath)
		}
	}

	return nil
}
