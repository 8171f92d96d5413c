package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderwatch/tendersync/internal/runlog"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show reconciliation run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := runlog.NewLog(cfg.Sync.RunHistoryPath, cfg.Sync.RunHistoryKeep).List()
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}
		if limit > 0 && len(runs) > limit {
			runs = runs[len(runs)-limit:]
		}

		// Newest first.
		for i := len(runs) - 1; i >= 0; i-- {
			run := runs[i]
			fmt.Printf("%s  %s  %-8s  %s..%s  added=%d replaced=%d skipped=%d errors=%d\n",
				run.StartTime.Format("2006-01-02 15:04:05"),
				run.RunID[:8],
				run.Status,
				run.DateFrom, run.DateTo,
				run.Metrics.Added, run.Metrics.Replaced,
				run.Metrics.Skipped, run.Metrics.Errors,
			)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
