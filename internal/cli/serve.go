package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/metrics"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/server"
	"github.com/ppiankov/rolcurve/internal/worker"
)

var (
	serveAddr string
	preload   string
	rps       float64
	burst     int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve curves and quotes over HTTP",
	Long: `Serve starts the curve API:

  GET  /healthz
  GET  /metrics
  GET  /v1/curves/{client}/{lob}
  POST /v1/curves/{client}/{lob}/quote   {"attachment": 1e6, "limit": 4e6, "industry": "tech", "size": 2e7}
  POST /v1/curves/{client}/{lob}/fit     {"policies": [...]}

Curves come from --preload, from fits posted to the API, and from the
configured store. Requests are rate limited per client.

Example:
  rolcurve serve --preload policies.csv
  ROLCURVE_STORE_DRIVER=sqlite ROLCURVE_STORE_DSN=curves.db rolcurve serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&preload, "preload", "", "policy table to fit before serving")
	serveCmd.Flags().Float64Var(&rps, "rps", 0, "requests per second per client (default: server.requests_per_second)")
	serveCmd.Flags().IntVar(&burst, "burst", 0, "burst per client (default: server.burst)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if rps > 0 {
		cfg.Server.RequestsPerSecond = rps
	}
	if burst > 0 {
		cfg.Server.Burst = burst
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewRegistry(reg)

	p, cleanup, err := openPipeline(cfg, m)
	if err != nil {
		return err
	}
	defer cleanup()

	if preload != "" {
		if err := preloadCurves(ctx, preload, p); err != nil {
			return err
		}
	}

	limiter := worker.LimiterFromConfig(cfg.Server)
	srv := server.New(p, m, limiter)

	fmt.Fprintf(os.Stderr, "✓ Listening on %s (%g req/s per client, burst %d)\n",
		cfg.Server.Addr, cfg.Server.RequestsPerSecond, cfg.Server.Burst)
	return srv.Run(ctx, cfg.Server)
}

// preloadCurves fits every group of a policy table so the API can quote at once
func preloadCurves(ctx context.Context, src string, p *pipeline.Pipeline) error {
	in, err := loadInput(ctx, p, src)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range p.FitAll(ctx, model.GroupPolicies(in.Policies)) {
		if r.Error != nil {
			failed++
			log.Warn().Err(r.Error).Str("group", r.Key.String()).Msg("preload fit failed")
			continue
		}
		log.Info().Str("group", r.Key.String()).Dur("elapsed", r.Elapsed).Msg("preloaded curve")
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "⚠ %d groups could not be fitted\n", failed)
	}
	return nil
}
