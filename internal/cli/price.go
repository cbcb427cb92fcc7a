package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

var (
	groupClient string
	groupLOB    string
	fromFile    string
	layers      []string
	industry    string
	insuredSize float64
)

// priceCmd represents the price command
var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Quote layers against a fitted curve",
	Long: `Price quotes one or more layers, given as attachment:limit, against the
curve of a client and LOB. The curve is fitted from --from, or read from the
configured store when --from is omitted.

Amounts accept SI suffixes (1M, 2.5M, 500k). M is uppercase; 1m is rejected.

Example:
  rolcurve price --from policies.csv --client acme --lob do --layer 1M:4M
  rolcurve price --client acme --lob do --layer 0:1M --layer 5M:5M --industry tech --size 20M`,
	Args: cobra.NoArgs,
	RunE: runPrice,
}

func init() {
	rootCmd.AddCommand(priceCmd)

	priceCmd.Flags().StringVar(&groupClient, "client", "", "client of the curve")
	priceCmd.Flags().StringVar(&groupLOB, "lob", "", "line of business of the curve")
	priceCmd.Flags().StringVar(&fromFile, "from", "", "policy table to fit the curve from (default: latest stored curve)")
	priceCmd.Flags().StringArrayVar(&layers, "layer", nil, "layer as attachment:limit, repeatable")
	priceCmd.Flags().StringVar(&industry, "industry", "", "industry of the insured")
	priceCmd.Flags().Float64Var(&insuredSize, "size", 1, "size of the insured, e.g. revenue")
	_ = priceCmd.MarkFlagRequired("layer")
}

// parseLayer parses "attachment:limit"
func parseLayer(s string) (float64, float64, error) {
	att, lim, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("layer %q: want attachment:limit", s)
	}
	a, err := parseSI(att)
	if err != nil {
		return 0, 0, fmt.Errorf("layer %q attachment: %w", s, err)
	}
	l, err := parseSI(lim)
	if err != nil {
		return 0, 0, fmt.Errorf("layer %q limit: %w", s, err)
	}
	if l <= 0 {
		return 0, 0, fmt.Errorf("layer %q: limit must be positive", s)
	}
	return a, l, nil
}

// parseSI parses a plain number or an SI amount such as 2.5M or 500k.
// Suffixes are case sensitive: M is mega, a lowercase m is rejected.
func parseSI(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	// humanize reads a lowercase m as milli
	if strings.HasSuffix(s, "m") {
		return 0, fmt.Errorf("amount %q: use M for millions", s)
	}
	for _, prefix := range []string{"u", "µ", "n", "p", "f", "a", "z", "y"} {
		if strings.HasSuffix(s, prefix) {
			return 0, fmt.Errorf("amount %q: fractional SI prefix %q", s, prefix)
		}
	}
	v, unit, err := humanize.ParseSI(s)
	if err != nil {
		return 0, err
	}
	if unit != "" {
		return 0, fmt.Errorf("unexpected unit %q in %q", unit, s)
	}
	return v, nil
}

func runPrice(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, cleanup, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	rc, key, err := curveFor(ctx, p)
	if err != nil {
		return err
	}

	pricer := pricing.New(rc, model.ExposureBase(rc.ExposureBase))
	fmt.Printf("Quotes for %s (fitted %s)\n\n", key, humanize.Time(rc.FittedAt))
	fmt.Printf("%-12s %-12s %10s %10s %10s %16s  %s\n", "Attachment", "Limit", "Base rate", "Rate", "Band", "Premium", "")
	for _, l := range layers {
		att, lim, err := parseLayer(l)
		if err != nil {
			return err
		}
		q, err := pricer.Predict(att, att+lim, industry, insuredSize)
		if err != nil {
			return fmt.Errorf("price %s: %w", l, err)
		}
		note := ""
		if q.Extrapolated {
			note = "extrapolated"
		}
		fmt.Printf("%-12s %-12s %10s %10s %10s %16s  %s\n",
			pipeline.Amount(att), pipeline.Amount(lim),
			pipeline.Percent(q.BaseRate), pipeline.Percent(q.Rate), "±"+pipeline.Percent(q.Band),
			pipeline.Money(q.Premium), note)
	}
	return nil
}

// curveFor fits the --client/--lob group from --from, or looks up the latest curve
func curveFor(ctx context.Context, p *pipeline.Pipeline) (*curve.RolCurve, model.GroupKey, error) {
	if fromFile == "" {
		if groupClient == "" || groupLOB == "" {
			return nil, model.GroupKey{}, errors.New("--client and --lob are required without --from")
		}
		key := model.GroupKey{Client: groupClient, LOB: groupLOB}
		rc, err := p.Curve(ctx, key)
		if errors.Is(err, pipeline.ErrCurveNotFound) {
			return nil, key, fmt.Errorf("%w: configure a store or pass --from", err)
		}
		return rc, key, err
	}

	in, err := loadInput(ctx, p, fromFile)
	if err != nil {
		return nil, model.GroupKey{}, err
	}
	key, policies, err := selectGroup(in.Policies, groupClient, groupLOB)
	if err != nil {
		return nil, key, err
	}
	rc, err := p.FitGroup(ctx, key, policies)
	return rc, key, err
}
