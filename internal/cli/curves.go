package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/model"
	"github.com/ppiankov/rolcurve/internal/store"
)

var (
	historyLimit int
	pruneKeep    int
)

var curvesCmd = &cobra.Command{
	Use:   "curves",
	Short: "Browse and prune stored curves",
	Long: `Curves works on the curve store configured under store: (sqlite or postgres).
Every fit is kept; the newest fit per client and LOB is the one served.`,
}

var curvesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every client and LOB with a stored curve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		keys, err := st.Keys(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Fprintln(os.Stderr, "No stored curves")
			return nil
		}
		fmt.Printf("%-24s %-16s %8s %10s %s\n", "Client", "LOB", "Segments", "RMSE", "Fitted")
		for _, k := range keys {
			recs, err := st.History(cmd.Context(), k, 1)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				continue
			}
			r := recs[0]
			fmt.Printf("%-24s %-16s %8d %10.5f %s\n", r.Client, r.LOB, r.Segments, r.RMSE, humanize.Time(r.Time()))
		}
		return nil
	},
}

var curvesHistoryCmd = &cobra.Command{
	Use:   "history <client> <lob>",
	Short: "Show the stored fits of one client and LOB, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		key := model.GroupKey{Client: args[0], LOB: args[1]}
		recs, err := st.History(cmd.Context(), key, historyLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return fmt.Errorf("no stored curves for %s", key)
		}
		fmt.Printf("%-36s %-20s %8s %8s %10s\n", "ID", "Fitted", "Segments", "Imputed", "RMSE")
		for _, r := range recs {
			fmt.Printf("%-36s %-20s %8d %8d %10.5f\n",
				r.ID, r.Time().Format(time.DateTime), r.Segments, r.Imputed, r.RMSE)
		}
		return nil
	},
}

var curvesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the newest fits of every client and LOB",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneKeep < 1 {
			return fmt.Errorf("--keep must be at least 1, the served curve is never pruned")
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		keys, err := st.Keys(cmd.Context())
		if err != nil {
			return err
		}
		var total int64
		for _, k := range keys {
			n, err := st.Prune(cmd.Context(), k, pruneKeep)
			if err != nil {
				return err
			}
			total += n
		}
		fmt.Fprintf(os.Stderr, "✓ Removed %s old fits across %d groups\n", humanize.Comma(total), len(keys))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(curvesCmd)
	curvesCmd.AddCommand(curvesListCmd, curvesHistoryCmd, curvesPruneCmd)

	curvesHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum fits to show (0 for all)")
	curvesPruneCmd.Flags().IntVar(&pruneKeep, "keep", 5, "fits to keep per client and LOB")
}

// openStore opens the configured curve store
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == "" {
		return nil, fmt.Errorf("no curve store configured, set store.driver and store.dsn")
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
