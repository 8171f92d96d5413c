package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tenderwatch/tendersync/internal/dedupe"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse duplicate records in a JSONL file",
	Long: `Collapse records that share a content fingerprint.

Volatile capture metadata (scrape timestamp, date window, extraction method)
is ignored when comparing records. By default the input is deduplicated in
place with a .bak copy of the original.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		if in == "" {
			in = cfg.Store.Path
		}
		if out == "" {
			out = in
		}

		stats, err := dedupe.File(in, out, !noBackup && out == in)
		if err != nil {
			return eris.Wrap(err, "dedupe")
		}

		fmt.Printf("%d records read: %d unique, %d duplicates, %d invalid, %d corrupt\n",
			stats.Total, stats.Unique,
			stats.Total-stats.Unique-stats.Invalid-stats.Corrupt,
			stats.Invalid, stats.Corrupt)
		return nil
	},
}

func init() {
	dedupeCmd.Flags().String("in", "", "input JSONL file (default: configured store path)")
	dedupeCmd.Flags().String("out", "", "output file (default: in place)")
	dedupeCmd.Flags().Bool("no-backup", false, "skip the .bak copy for in-place runs")
	rootCmd.AddCommand(dedupeCmd)
}
