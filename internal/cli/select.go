package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/pipeline"
)

var (
	folds      int
	selectJSON string
	selectMD   string
)

// selectCmd represents the select command
var selectCmd = &cobra.Command{
	Use:   "select <policies.csv|policies.xlsx|url>",
	Short: "Choose grid size and anchor strength by cross-validation",
	Long: `Select sweeps grids derived from the LOB grid (the LOB grid itself, its
midpoint refinement and the configured grid sizes spread over the LOB range)
and the configured anchor strengths for one client and LOB, scores each combination by K-fold cross-validation, and fits
the winner. Candidates that cannot be fitted in some fold are disqualified.

Example:
  rolcurve select policies.csv --client acme --lob do
  rolcurve select policies.csv --client acme --lob do --folds 10 --json sweep.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVar(&groupClient, "client", "", "client to analyze (optional for single-group tables)")
	selectCmd.Flags().StringVar(&groupLOB, "lob", "", "line of business to analyze")
	selectCmd.Flags().IntVar(&folds, "folds", 0, "cross-validation folds (default: selection.folds)")
	selectCmd.Flags().StringVar(&selectJSON, "json", "", "write the full report as JSON")
	selectCmd.Flags().StringVar(&selectMD, "md", "", "write the full report as Markdown")
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if folds > 0 {
		cfg.Selection.Folds = folds
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

	fmt.Fprintf(os.Stderr, "⚙️  Sweeping the %s grid, its refinement and %d spaced grids x %d anchor strengths with %d folds...\n",
		key.LOB, len(cfg.Selection.GridCounts), len(cfg.Selection.AnchorStrengths), cfg.Selection.Folds)
	res, rc, err := p.SelectGroup(ctx, key, policies)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d policies, %d folds\n\n", key, res.Policies, res.Folds)
	fmt.Printf("%-8s %11s %8s %10s %12s  %s\n", "Grid", "Grid points", "Anchor", "CV error", "Criterion", "")
	for _, c := range res.Candidates {
		note := c.Reason
		if c.Candidate == res.Chosen.Candidate {
			note = "← chosen"
		}
		cvErr := "-"
		if !c.Disqualified {
			cvErr = pipeline.Percent(c.CVError)
		}
		fmt.Printf("%-8s %11d %8g %10s %12.6f  %s\n", c.Grid, c.GridPoints, c.AnchorStrength, cvErr, c.Criterion, note)
	}
	fmt.Println()
	if res.LowerBound > 0 {
		fmt.Printf("Lower bound %s, gap %s, ratio %.2f\n", pipeline.Percent(res.LowerBound), pipeline.Percent(res.Gap), res.Ratio)
	}

	if selectJSON == "" && selectMD == "" {
		return nil
	}
	report, err := p.Analyze(rc, policies)
	if err != nil {
		return err
	}
	report.Source = in.Batch.Source
	report.Selection = res
	report.Validation = in.Validation
	return p.RenderReport(report, selectJSON, selectMD, verbose)
}
