package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ppiankov/rolcurve/internal/metrics"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/store"
	"github.com/ppiankov/rolcurve/internal/worker"
)

// openPipeline builds a pipeline, attaching the curve store when one is configured.
// The returned cleanup closes the store.
func openPipeline(cfg *model.Config, m *metrics.Registry) (*pipeline.Pipeline, func(), error) {
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	cleanup := func() {}

	if cfg.Store.Driver != "" {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open store: %w", err)
		}
		opts = append(opts, pipeline.WithStore(st))
		cleanup = func() {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("close store")
			}
		}
	}

	p, err := pipeline.NewPipeline(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return p, cleanup, nil
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// loadInput reads a policy table from a path or URL. Validation failures are
// printed before the error is returned.
func loadInput(ctx context.Context, p *pipeline.Pipeline, src string) (*pipeline.Input, error) {
	var (
		in  *pipeline.Input
		err error
	)
	if isURL(src) {
		in, err = p.LoadURL(ctx, src)
	} else {
		in, err = p.LoadFile(src)
	}
	if in != nil {
		printValidation(in)
	}
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			return in, fmt.Errorf("%s failed validation: %w", src, err)
		}
		return nil, fmt.Errorf("load %s: %w", src, err)
	}
	return in, nil
}

func printValidation(in *pipeline.Input) {
	v := in.Validation
	fmt.Fprintf(os.Stderr, "✓ Loaded %d rows from %s (%d unreadable)\n", len(in.Batch.Policies), in.Batch.Source, len(in.Batch.Rejected))
	if v == nil {
		return
	}
	mark := "✓"
	if !v.Passed {
		mark = "✗"
	}
	fmt.Fprintf(os.Stderr, "%s Validation: %d clean, error rate %.1f%%\n", mark, len(v.Clean), v.ErrorRate()*100)
	for _, r := range v.Rules {
		if r.Failures == 0 {
			continue
		}
		kind := "soft"
		if r.Hard {
			kind = "hard"
		}
		fmt.Fprintf(os.Stderr, "    %s %s (%s): %d failures", r.Field, r.Rule, kind, r.Failures)
		if len(r.Values) > 0 {
			fmt.Fprintf(os.Stderr, ", e.g. %s", strings.Join(r.Values, ", "))
		}
		fmt.Fprintln(os.Stderr)
	}
}

// selectGroup picks the policies of one (client, LOB). Empty client and LOB
// are allowed when the table holds a single group.
func selectGroup(policies []model.Policy, client, lob string) (model.GroupKey, []model.Policy, error) {
	groups := model.GroupPolicies(policies)
	if client == "" && lob == "" {
		if len(groups) != 1 {
			keys := worker.SortedKeys(groups)
			names := make([]string, len(keys))
			for i, k := range keys {
				names[i] = k.String()
			}
			return model.GroupKey{}, nil, fmt.Errorf("table holds %d groups (%s), pick one with --client and --lob",
				len(groups), strings.Join(names, ", "))
		}
		for k, ps := range groups {
			return k, ps, nil
		}
	}

	key := model.GroupKey{Client: client, LOB: lob}
	ps, ok := groups[key]
	if !ok {
		return key, nil, fmt.Errorf("no policies for %s", key)
	}
	return key, ps, nil
}

// reportName builds a file-safe base name for a group's report
func reportName(key model.GroupKey) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "-")
	name := r.Replace(key.Client) + "__" + r.Replace(key.LOB)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
