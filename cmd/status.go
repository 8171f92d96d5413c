package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderwatch/tendersync/internal/remote"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare local and remote counts without scraping",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dateFrom, err := parseDateFlag(cmd, "date-from")
		if err != nil {
			return err
		}
		dateTo, err := parseDateFlag(cmd, "date-to")
		if err != nil {
			return err
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if dateFrom.IsZero() {
			dateFrom = today.AddDate(0, 0, -cfg.Sync.RollingWindowDays)
		}
		if dateTo.IsZero() {
			dateTo = today.AddDate(0, 0, cfg.Sync.RollingWindowDays)
		}

		st := openStore(cmd)
		localCount, err := st.CountBetween(dateFrom, dateTo)
		if err != nil {
			return eris.Wrap(err, "status: count local records")
		}
		total, err := st.Len()
		if err != nil {
			return eris.Wrap(err, "status: load store")
		}

		remoteCount, err := newReader().FetchCount(ctx, dateFrom, dateTo, remote.Filters{})
		if err != nil {
			return eris.Wrap(err, "status: query remote count")
		}

		window := dateFrom.Format("2006-01-02") + ".." + dateTo.Format("2006-01-02")
		fmt.Printf("Store:  %d records total, %d in %s\n", total, localCount, window)
		fmt.Printf("Remote: %d in %s\n", remoteCount, window)
		if remoteCount == localCount {
			fmt.Println("In sync")
		} else {
			fmt.Printf("Drift: %+d remote\n", remoteCount-localCount)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("store", "", "override the store path")
	statusCmd.Flags().String("date-from", "", "window start (YYYY-MM-DD)")
	statusCmd.Flags().String("date-to", "", "window end (YYYY-MM-DD)")
	rootCmd.AddCommand(statusCmd)
}
