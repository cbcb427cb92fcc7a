// Package metrics holds the Prometheus collectors for fits, quotes and caches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all rolcurve metrics
type Registry struct {
	// Fit metrics
	FitDuration   *prometheus.HistogramVec
	Fits          *prometheus.CounterVec
	Escalations   prometheus.Counter
	ImputedShare  *prometheus.GaugeVec
	CurveRMSE     *prometheus.GaugeVec
	OutliersFound *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// API metrics
	Quotes          *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewRegistry creates the metrics and registers them on reg.
// A nil reg gets a private registry, so tests never touch the global one.
func NewRegistry(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{
		FitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolcurve_fit_duration_seconds",
				Help:    "Duration of one (client, LOB) curve fit in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"lob"},
		),
		Fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolcurve_fits_total",
				Help: "Total number of curve fits by result",
			},
			[]string{"lob", "result"},
		),
		Escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rolcurve_shape_escalations_total",
				Help: "Total number of penalty escalation rounds to restore a decreasing curve",
			},
		),
		ImputedShare: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rolcurve_imputed_segment_share",
				Help: "Share of imputed segments in the latest fitted curve",
			},
			[]string{"client", "lob"},
		),
		CurveRMSE: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rolcurve_curve_rmse",
				Help: "In-sample rate RMSE of the latest fitted curve",
			},
			[]string{"client", "lob"},
		),
		OutliersFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolcurve_outliers_total",
				Help: "Total number of policies flagged as premium outliers",
			},
			[]string{"lob"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolcurve_cache_hits_total",
				Help: "Total number of curve cache hits by source",
			},
			[]string{"source"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolcurve_cache_misses_total",
				Help: "Total number of curve cache misses by source",
			},
			[]string{"source"},
		),
		Quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolcurve_quotes_total",
				Help: "Total number of quotes priced",
			},
			[]string{"lob", "extrapolated"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolcurve_http_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rolcurve_rate_limited_total",
				Help: "Total number of requests rejected by the per-client rate limiter",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		r.FitDuration, r.Fits, r.Escalations, r.ImputedShare, r.CurveRMSE, r.OutliersFound,
		r.CacheHits, r.CacheMisses, r.Quotes, r.RequestDuration, r.RateLimited,
	)
	return r
}

// Gatherer returns the registry to expose on /metrics
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// ObserveFit records one finished fit. Nil receivers are no-ops.
func (r *Registry) ObserveFit(client, lob string, elapsed time.Duration, err error, rounds, imputed, segments int, rmse float64) {
	if r == nil {
		return
	}
	r.FitDuration.WithLabelValues(lob).Observe(elapsed.Seconds())
	if err != nil {
		r.Fits.WithLabelValues(lob, "error").Inc()
		return
	}
	r.Fits.WithLabelValues(lob, "ok").Inc()
	r.Escalations.Add(float64(rounds))
	if segments > 0 {
		r.ImputedShare.WithLabelValues(client, lob).Set(float64(imputed) / float64(segments))
	}
	r.CurveRMSE.WithLabelValues(client, lob).Set(rmse)
}

// ObserveCache records a cache lookup
func (r *Registry) ObserveCache(source string, hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheHits.WithLabelValues(source).Inc()
	} else {
		r.CacheMisses.WithLabelValues(source).Inc()
	}
}

// ObserveQuote records a priced quote
func (r *Registry) ObserveQuote(lob string, extrapolated bool) {
	if r == nil {
		return
	}
	ext := "false"
	if extrapolated {
		ext = "true"
	}
	r.Quotes.WithLabelValues(lob, ext).Inc()
}

// ObserveOutliers records flagged policies
func (r *Registry) ObserveOutliers(lob string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.OutliersFound.WithLabelValues(lob).Add(float64(n))
}
