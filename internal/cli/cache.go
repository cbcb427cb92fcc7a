package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/rolcurve/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the on-disk curve cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired curves from the disk cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dc := cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.DiskTTL)
		removed, err := dc.Prune()
		if err != nil {
			return fmt.Errorf("prune %s: %w", cfg.Cache.Dir, err)
		}
		left, err := dc.Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Removed %s expired curves, %s remain in %s\n",
			humanize.Comma(int64(removed)), humanize.Comma(int64(left)), cfg.Cache.Dir)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached curve on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.DiskTTL).Clear(); err != nil {
			return fmt.Errorf("clear %s: %w", cfg.Cache.Dir, err)
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared %s\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
