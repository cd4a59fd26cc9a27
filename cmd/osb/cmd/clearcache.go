package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensandbox/pybubble/internal/archive"
)

var clearCacheDryRun bool

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Remove the per-user content-addressed rootfs cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := archive.NewStore()
		if err != nil {
			return exitCodeError{code: 1, message: err.Error()}
		}

		stats, err := store.Stats()
		if err != nil {
			return exitCodeError{code: 1, message: err.Error()}
		}

		if clearCacheDryRun {
			fmt.Printf("would remove %d cached rootfs trees (%d bytes)\n", stats.Entries, stats.TotalBytes)
			return nil
		}

		if err := store.ClearCache(); err != nil {
			return exitCodeError{code: 1, message: err.Error()}
		}
		fmt.Printf("removed %d cached rootfs trees (%d bytes)\n", stats.Entries, stats.TotalBytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCacheCmd)
	clearCacheCmd.Flags().BoolVar(&clearCacheDryRun, "dry-run", false, "report what would be removed without removing it")
}
