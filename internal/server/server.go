// Package server exposes fitted curves and quotes over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/rolcurve/internal/metrics"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/validate"
	"github.com/ppiankov/rolcurve/internal/worker"
)

const maxRequestBody = 10 << 20

// Server serves the curve API
type Server struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Registry
	limiter  *worker.Limiter
	validate *validator.Validate
	router   chi.Router
}

// New creates a server. A nil limiter disables per-client throttling.
func New(p *pipeline.Pipeline, m *metrics.Registry, limiter *worker.Limiter) *Server {
	s := &Server{
		pipeline: p,
		metrics:  m,
		limiter:  limiter,
		validate: validate.NewStructValidator(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	r.Route("/v1/curves/{client}/{lob}", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(s.rateLimit)
		r.Get("/", s.handleGetCurve)
		r.Get("/points", s.handlePoints)
		r.Post("/quote", s.handleQuote)
		r.Post("/fit", s.handleFit)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, cfg model.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("serving curve API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down curve API")
		return srv.Shutdown(shutdownCtx)
	})
	if s.limiter != nil && cfg.LimiterIdle > 0 {
		g.Go(func() error {
			s.pruneLimiter(gctx, cfg.LimiterIdle)
			return nil
		})
	}
	return g.Wait()
}

// pruneLimiter drops idle client buckets until ctx is done
func (s *Server) pruneLimiter(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Prune(idle); n > 0 {
				log.Debug().Int("clients", n).Msg("pruned idle rate limiters")
			}
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		}
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// rateLimit throttles requests per client
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			client := chi.URLParam(r, "client")
			if ok, wait := s.limiter.Allow(client); !ok {
				if s.metrics != nil {
					s.metrics.RateLimited.Inc()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
				writeProblem(w, r, newProblem(r, http.StatusTooManyRequests, TypeRateLimit,
					"Too Many Requests", fmt.Sprintf("rate limit exceeded for client %q", client)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func groupKey(r *http.Request) model.GroupKey {
	return model.GroupKey{Client: chi.URLParam(r, "client"), LOB: chi.URLParam(r, "lob")}
}

// decode reads a JSON body into v and validates it
func (s *Server) decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(http.MaxBytesReader(nil, r.Body, maxRequestBody), v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
