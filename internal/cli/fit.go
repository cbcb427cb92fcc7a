package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/worker"
)

var (
	keysFile   string
	outputDir  string
	workers    int
	fitTimeout time.Duration
	noCache    bool
	noMarkdown bool
	httpProxy  string
	httpsProxy string
)

// fitCmd represents the fit command
var fitCmd = &cobra.Command{
	Use:   "fit <policies.csv|policies.xlsx|url>",
	Short: "Fit a curve for every client and LOB in a policy table",
	Long: `Fit reads a policy table and fits one Rate-on-Line curve per
(client, line of business):
- Validate rows and drop those that fail
- Fit each group in parallel with the configured worker count
- Score fit quality and flag outlying premiums
- Write a JSON and Markdown report per group

Example:
  rolcurve fit policies.csv
  rolcurve fit policies.xlsx --workers 8 --output-dir ./reports
  rolcurve fit https://example.com/export/policies.csv --keys groups.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

func init() {
	rootCmd.AddCommand(fitCmd)

	fitCmd.Flags().StringVar(&keysFile, "keys", "", "file of client/lob lines to fit (default: every group)")
	fitCmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory for reports (default: output.dir)")
	fitCmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent fits (default: concurrency.workers)")
	fitCmd.Flags().DurationVar(&fitTimeout, "timeout", 10*time.Minute, "total timeout for the batch")
	fitCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the curve cache (force refit)")
	fitCmd.Flags().BoolVar(&noMarkdown, "no-md", false, "skip Markdown reports")
	fitCmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	fitCmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
}

func runFit(cmd *cobra.Command, args []string) error {
	src := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), fitTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workers > 0 {
		cfg.Concurrency.Workers = workers
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if noMarkdown {
		cfg.Output.Markdown = false
	}
	if httpProxy != "" {
		cfg.HTTP.HTTPProxy = httpProxy
	}
	if httpsProxy != "" {
		cfg.HTTP.HTTPSProxy = httpsProxy
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  rolcurve fit\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input:        %s\n", src)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "  Cache:        %v\n", cfg.Cache.Enabled)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", fitTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	p, cleanup, err := openPipeline(cfg, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "⚙️  Reading policies...\n")
	in, err := loadInput(ctx, p, src)
	if err != nil {
		return err
	}

	groups := model.GroupPolicies(in.Policies)
	if keysFile != "" {
		keys, err := worker.ReadKeysFromFile(keysFile)
		if err != nil {
			return fmt.Errorf("read keys: %w", err)
		}
		groups = worker.FilterGroups(groups, keys)
		if len(groups) == 0 {
			return fmt.Errorf("none of the %d keys in %s match a group in %s", len(keys), keysFile, src)
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "⚙️  Fitting %d groups with %d workers...\n", len(groups), cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "\n")

	results := p.FitAll(ctx, groups)

	successCount := 0
	failureCount := 0
	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Key, result.Error)
			continue
		}

		report, err := p.Analyze(result.Curve, groups[result.Key])
		if err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Key, err)
			continue
		}
		report.Source = in.Batch.Source
		report.Validation = in.Validation

		base := filepath.Join(cfg.Output.Dir, reportName(result.Key))
		mdPath := ""
		if cfg.Output.Markdown {
			mdPath = base + ".md"
		}
		if err := p.RenderReport(report, base+".json", mdPath, cfg.Output.Verbose); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Key, err)
			continue
		}

		successCount++
		fmt.Fprintf(os.Stderr, "✓ ")
		p.Renderer().RenderSummary(os.Stderr, report)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Fit Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Groups:    %d\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")

	if successCount == 0 && failureCount > 0 {
		return fmt.Errorf("no curve could be fitted")
	}
	return nil
}
