package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenderwatch/tendersync/internal/reconcile"
	"github.com/tenderwatch/tendersync/internal/runlog"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the local mirror with the registry",
	Long: `Reconcile the local store with the registry.

Recent mutable tenders are revalidated individually, then local and remote
counts are compared per date window; only the divergent suffix of days is
re-scraped. Use --force-rescrape to ignore the count comparison and re-pull
the whole window, and --dry-run to report what would change without writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "sync"))

		dateFrom, err := parseDateFlag(cmd, "date-from")
		if err != nil {
			return err
		}
		dateTo, err := parseDateFlag(cmd, "date-to")
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		workers, _ := cmd.Flags().GetInt("workers")
		force, _ := cmd.Flags().GetBool("force-rescrape")
		skipRecheck, _ := cmd.Flags().GetBool("skip-recheck")

		if workers <= 0 {
			workers = cfg.Sync.Workers
		}

		st := openStore(cmd)
		detector := reconcile.New(st, newReader(), reconcile.Options{
			DateFrom:          dateFrom,
			DateTo:            dateTo,
			RollingWindowDays: cfg.Sync.RollingWindowDays,
			LookbackDays:      cfg.Sync.LookbackDays,
			RecheckWindowDays: cfg.Sync.RecheckWindowDays,
			MutableStatuses:   cfg.MutableStatusSet(),
			Workers:           workers,
			DryRun:            dryRun,
			ForceRescrape:     force,
			SkipRevalidate:    skipRecheck,
		})

		run, runErr := detector.Run(ctx)

		history := runlog.NewLog(cfg.Sync.RunHistoryPath, cfg.Sync.RunHistoryKeep)
		if err := history.Append(run); err != nil {
			log.Warn("failed to record run history", zap.Error(err))
		}

		if runErr != nil {
			return eris.Wrap(runErr, "sync")
		}

		fmt.Printf("Run %s: %s (%.1fs)\n", run.RunID, run.Status, run.DurationSecs)
		fmt.Printf("  added=%d replaced=%d skipped=%d errors=%d\n",
			run.Metrics.Added, run.Metrics.Replaced, run.Metrics.Skipped, run.Metrics.Errors)
		for _, day := range run.PerDay {
			fmt.Printf("  %s: remote=%d local=%d %s\n",
				day.Date, day.RemoteCount, day.LocalCount, day.Outcome)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("store", "", "override the store path")
	syncCmd.Flags().String("date-from", "", "window start (YYYY-MM-DD)")
	syncCmd.Flags().String("date-to", "", "window end (YYYY-MM-DD)")
	syncCmd.Flags().Bool("dry-run", false, "compute and report without writing the store")
	syncCmd.Flags().Int("workers", 0, "re-scrape parallelism (default from config)")
	syncCmd.Flags().Bool("force-rescrape", false, "ignore count comparison and re-scrape the window")
	syncCmd.Flags().Bool("skip-recheck", false, "skip revalidation of recent mutable tenders")
	rootCmd.AddCommand(syncCmd)
}
