package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/compare"
	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/ingest"
	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/pipeline"
)

var (
	compareBy  string
	sizeEdges  string
	sizeLabels string
	comparePts string
)

// compareCmd represents the compare command
var compareCmd = &cobra.Command{
	Use:   "compare <policies.csv|policies.xlsx|url>",
	Short: "Compare curves fitted on size bands or industries",
	Long: `Compare splits one client and LOB into sub-portfolios, fits a curve on
each, and prints their rates side by side at shared exposure points.

Size bands are right-inclusive: edges 0,10M,100M put a size of exactly 10M in
the first band and a size of 0 in no band.

Example:
  rolcurve compare policies.csv --client acme --lob do --by industry
  rolcurve compare policies.csv --client acme --lob do --by size \
      --edges 0,10M,100M,10G --labels small,mid,large --at 0,1M,5M,10M`,
	Args: cobra.ExactArgs(1),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringVar(&groupClient, "client", "", "client to analyze (optional for single-group tables)")
	compareCmd.Flags().StringVar(&groupLOB, "lob", "", "line of business to analyze")
	compareCmd.Flags().StringVar(&compareBy, "by", "industry", "split by industry or size")
	compareCmd.Flags().StringVar(&sizeEdges, "edges", "", "comma separated size band edges (with --by size)")
	compareCmd.Flags().StringVar(&sizeLabels, "labels", "", "comma separated size band labels, one fewer than edges")
	compareCmd.Flags().StringVar(&comparePts, "at", "", "comma separated exposure points (default: shared split points)")
}

func parseAmounts(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := parseSI(p)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

// splitPolicies groups policies by the --by dimension and returns the groups,
// their display order and how many policies fell in no group
func splitPolicies(policies []model.Policy) (map[string][]model.Policy, []string, int, error) {
	switch compareBy {
	case "industry":
		groups := compare.SplitByIndustry(policies)
		n := 0
		order := make([]string, 0, len(groups))
		for l, g := range groups {
			n += len(g)
			order = append(order, l)
		}
		sort.Strings(order)
		return groups, order, len(policies) - n, nil
	case "size":
		edges, err := parseAmounts(sizeEdges)
		if err != nil {
			return nil, nil, 0, err
		}
		var labels []string
		if sizeLabels != "" {
			labels = strings.Split(sizeLabels, ",")
		}
		b, err := ingest.NewBinner(edges, labels)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("size bands: %w", err)
		}
		groups, rest := compare.SplitBySize(policies, b)
		// Bands keep their ascending order
		var order []string
		for _, l := range b.Labels() {
			if _, ok := groups[l]; ok {
				order = append(order, l)
			}
		}
		return groups, order, len(rest), nil
	}
	return nil, nil, 0, fmt.Errorf("unknown --by %q, want industry or size", compareBy)
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	points, err := parseAmounts(comparePts)
	if err != nil {
		return err
	}

	p, cleanup, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	in, err := loadInput(ctx, p, args[0])
	if err != nil {
		return err
	}
	key, policies, err := selectGroup(in.Policies, groupClient, groupLOB)
	if err != nil {
		return err
	}

	groups, labels, unlabelled, err := splitPolicies(policies)
	if err != nil {
		return err
	}
	if unlabelled > 0 {
		fmt.Fprintf(os.Stderr, "⚠ %d policies fall in no %s group\n", unlabelled, compareBy)
	}

	curves := make(map[string]*curve.RolCurve, len(groups))
	for _, l := range labels {
		rc, err := p.Fit(key, groups[l])
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", l, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %d policies, %d segments (%d imputed)\n",
			l, len(groups[l]), len(rc.Segments), rc.Diagnostics.Imputed())
		curves[l] = rc
	}

	cmp, err := compare.Compare(curves, points)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s by %s\n\n", key, compareBy)
	fmt.Printf("%-12s", "Exposure")
	for _, l := range cmp.Labels {
		fmt.Printf(" %12s", l)
	}
	fmt.Printf(" %12s\n", "Spread")
	for _, row := range cmp.Rows {
		fmt.Printf("%-12s", pipeline.Amount(row.X))
		for _, l := range cmp.Labels {
			fmt.Printf(" %12s", pipeline.Percent(row.Rates[l]))
		}
		fmt.Printf(" %12s\n", pipeline.Percent(row.Spread))
	}
	if widest, ok := cmp.MaxSpread(); ok {
		fmt.Printf("\nWidest spread %s at %s: %s (%s) vs %s (%s)\n",
			pipeline.Percent(widest.Spread), pipeline.Amount(widest.X),
			widest.High, pipeline.Percent(widest.Rates[widest.High]),
			widest.Low, pipeline.Percent(widest.Rates[widest.Low]))
	}
	return nil
}
