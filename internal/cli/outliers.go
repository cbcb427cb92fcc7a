package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/outlier"
	"github.com/ppiankov/rolcurve/internal/pipeline"
	"github.com/ppiankov/rolcurve/internal/pricing"
)

var (
	threshold  float64
	showAllRow bool
)

// outliersCmd represents the outliers command
var outliersCmd = &cobra.Command{
	Use:   "outliers <policies.csv|policies.xlsx|url>",
	Short: "Flag premiums far from the fitted curve",
	Long: `Outliers fits the curve of one client and LOB and re-scores every policy
against it. A premium is flagged when its standardized residual exceeds the
threshold.

Example:
  rolcurve outliers policies.csv --client acme --lob do
  rolcurve outliers policies.csv --client acme --lob do --threshold 2 --all`,
	Args: cobra.ExactArgs(1),
	RunE: runOutliers,
}

func init() {
	rootCmd.AddCommand(outliersCmd)

	outliersCmd.Flags().StringVar(&groupClient, "client", "", "client to analyze (optional for single-group tables)")
	outliersCmd.Flags().StringVar(&groupLOB, "lob", "", "line of business to analyze")
	outliersCmd.Flags().Float64Var(&threshold, "threshold", 0, "flag |z| above this (default: outlier.threshold)")
	outliersCmd.Flags().BoolVar(&showAllRow, "all", false, "print every policy, not only flagged ones")
}

func runOutliers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if threshold > 0 {
		cfg.Outlier.Threshold = threshold
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
	rc, err := p.FitGroup(ctx, key, policies)
	if err != nil {
		return err
	}

	base := model.ExposureBase(rc.ExposureBase)
	det := outlier.NewDetector(pricing.New(rc, base), base, cfg.Outlier.Threshold)
	var rows []outlier.Row
	if showAllRow {
		rows, err = det.Score(policies)
	} else {
		rows, err = det.Detect(policies)
	}
	if err != nil {
		return err
	}

	flagged := 0
	for _, r := range rows {
		if r.Flagged {
			flagged++
		}
	}
	fmt.Printf("%s: %d of %d policies flagged at |z| > %g\n\n", key, flagged, len(policies), cfg.Outlier.Threshold)
	if len(rows) == 0 {
		return nil
	}

	fmt.Printf("%-20s %7s %16s %16s %8s  %s\n", "Policy", "Segment", "Observed", "Predicted", "z", "")
	for _, r := range rows {
		note := ""
		if r.Flagged {
			note = "flagged"
		}
		if r.Pooled {
			note += " (pooled sigma)"
		}
		fmt.Printf("%-20s %7d %16s %16s %8.2f  %s\n",
			r.PolicyID, r.Segment, pipeline.Money(r.Observed), pipeline.Money(r.Predicted), r.Z, note)
	}
	return nil
}
