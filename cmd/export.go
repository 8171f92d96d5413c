package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderwatch/tendersync/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the store and run history to SQLite",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dbPath, _ := cmd.Flags().GetString("db")

		counts, err := export.ToSQLite(ctx, openStore(cmd), cfg.Sync.RunHistoryPath, dbPath)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		fmt.Printf("Exported %d tenders and %d runs to %s\n", counts.Tenders, counts.Runs, dbPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("store", "", "override the store path")
	exportCmd.Flags().String("db", "tenders.db", "output SQLite database path")
	rootCmd.AddCommand(exportCmd)
}
